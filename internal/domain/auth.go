package domain

// SubjectType differentiates human operators, integrating services and the
// customers writing in over WhatsApp.
type SubjectType string

const (
	SubjectTypeOperator SubjectType = "OPERATOR"
	SubjectTypeService  SubjectType = "SERVICE"
	SubjectTypeCustomer SubjectType = "CUSTOMER"
)

// Role enumerates the permissions carried by a bearer token.
type Role string

const (
	RoleAgent Role = "AGENT"
	RoleAdmin Role = "ADMIN"
)
