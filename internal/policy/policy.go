package policy

// TableName identifies a datastore table reachable through the assistant's
// CRUD surface. The set of values below is closed: a table without a
// constant here has no descriptor and is unreachable by construction.
type TableName string

const (
	TableBoundaries             TableName = "boundaries"
	TableRiskAssessments        TableName = "risk_assessments"
	TableThreatScenarios        TableName = "threat_scenarios"
	TableStakeholders           TableName = "stakeholders"
	TableGaps                   TableName = "gaps"
	TableEvidence               TableName = "evidence"
	TableQuestionnaireAnswers   TableName = "project_questionnaire_answers"
	TableBoundaryControls       TableName = "boundary_controls"
	TableControls               TableName = "controls"
	TableQuestionnaireQuestions TableName = "questionnaire_questions"
	TableProjects               TableName = "projects"
)

// Operation is a CRUD operation on a table.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ScopeMode classifies how a table's tenant ownership is determined.
type ScopeMode int

const (
	// ScopeNone marks unscoped reference data, readable by any principal.
	ScopeNone ScopeMode = iota
	// ScopeDirect marks tables whose ScopeColumn holds the project id.
	ScopeDirect
	// ScopeIndirect marks tables whose ScopeColumn holds a foreign record id
	// that must be resolved one hop further (RefTable.RefScopeColumn) to
	// reach the owning project.
	ScopeIndirect
	// ScopePrincipalOwned marks the project table itself: the record id must
	// be a member of the principal's resolved project set.
	ScopePrincipalOwned
)

func (m ScopeMode) String() string {
	switch m {
	case ScopeNone:
		return "none"
	case ScopeDirect:
		return "direct"
	case ScopeIndirect:
		return "indirect"
	case ScopePrincipalOwned:
		return "principal_owned"
	default:
		return "unknown"
	}
}

// TableDescriptor is the immutable policy entry for one table.
type TableDescriptor struct {
	Name           TableName
	ScopeMode      ScopeMode
	ScopeColumn    string    // column carrying the scope value; empty for ScopeNone
	RefTable       TableName // indirect only: table that resolves the scope value
	RefScopeColumn string    // indirect only: project id column on RefTable
	Operations     map[Operation]bool
	// Creatable is false for tables the agent must never create rows in,
	// even when OpCreate would otherwise be considered (the project entity).
	Creatable bool
}

// Allows reports whether op is permitted on this table.
func (d *TableDescriptor) Allows(op Operation) bool {
	return d.Operations[op]
}

func ops(list ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(list))
	for _, op := range list {
		m[op] = true
	}
	return m
}

// registry is the closed-world policy table, defined once at process start.
var registry = func() map[TableName]*TableDescriptor {
	direct := []TableName{
		TableBoundaries,
		TableRiskAssessments,
		TableThreatScenarios,
		TableStakeholders,
		TableGaps,
		TableEvidence,
		TableQuestionnaireAnswers,
	}

	m := make(map[TableName]*TableDescriptor, len(direct)+4)
	for _, name := range direct {
		m[name] = &TableDescriptor{
			Name:        name,
			ScopeMode:   ScopeDirect,
			ScopeColumn: "project_id",
			Operations:  ops(OpCreate, OpRead, OpUpdate, OpDelete),
			Creatable:   true,
		}
	}

	m[TableBoundaryControls] = &TableDescriptor{
		Name:           TableBoundaryControls,
		ScopeMode:      ScopeIndirect,
		ScopeColumn:    "boundary_id",
		RefTable:       TableBoundaries,
		RefScopeColumn: "project_id",
		Operations:     ops(OpCreate, OpRead, OpUpdate, OpDelete),
		Creatable:      true,
	}
	m[TableControls] = &TableDescriptor{
		Name:       TableControls,
		ScopeMode:  ScopeNone,
		Operations: ops(OpRead),
	}
	m[TableQuestionnaireQuestions] = &TableDescriptor{
		Name:       TableQuestionnaireQuestions,
		ScopeMode:  ScopeNone,
		Operations: ops(OpRead),
	}
	m[TableProjects] = &TableDescriptor{
		Name:        TableProjects,
		ScopeMode:   ScopePrincipalOwned,
		ScopeColumn: "id",
		Operations:  ops(OpRead, OpUpdate),
	}
	return m
}()

// Describe returns the descriptor for a table, or false when the table is
// not part of the allow-list.
func Describe(name TableName) (*TableDescriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// DescribeName is Describe for a free-form table name, e.g. one proposed by
// the model service. The string never reaches the datastore: callers use the
// returned descriptor's Name.
func DescribeName(name string) (*TableDescriptor, bool) {
	return Describe(TableName(name))
}

// TableNames returns the allow-listed table names in a stable order, for
// use as an enumerated parameter in the declared tool schema.
func TableNames() []string {
	return []string{
		string(TableBoundaries),
		string(TableRiskAssessments),
		string(TableThreatScenarios),
		string(TableStakeholders),
		string(TableGaps),
		string(TableEvidence),
		string(TableQuestionnaireAnswers),
		string(TableBoundaryControls),
		string(TableControls),
		string(TableQuestionnaireQuestions),
		string(TableProjects),
	}
}
