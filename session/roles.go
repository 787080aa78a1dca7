package session

// Registry roles as issued by the identity provider
const (
	RoleAdmin      = "Admin_client_role"
	RoleDoctor     = "Doctor_client_role"
	RoleResearcher = "Researcher_client_role"
	RolePatient    = "Patient_client_role"
)
