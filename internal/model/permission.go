package model

// Permission represents a string code for a grader action.
type Permission string

const (
	// PermissionAssessmentsRead allows viewing assessments and their questions.
	PermissionAssessmentsRead Permission = "assessments:read"

	// PermissionAssessmentsWrite allows authoring and publishing assessments.
	PermissionAssessmentsWrite Permission = "assessments:write"

	// PermissionAssessmentsClose allows closing a published assessment, which
	// force-submits every live session.
	PermissionAssessmentsClose Permission = "assessments:close"

	// PermissionAttemptsRead allows viewing attempts and their breakdowns.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionAttemptsGrade allows entering manual scores and rescoring.
	PermissionAttemptsGrade Permission = "attempts:grade"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionAssessmentsRead,
	PermissionAssessmentsWrite,
	PermissionAssessmentsClose,
	PermissionAttemptsRead,
	PermissionAttemptsGrade,
}
