package azure

import (
	"strings"

	"github.com/google/uuid"
)

// RoleAssignmentName derives the deterministic GUID name for a role
// assignment from its scope, role definition, and principal. The same
// triple always yields the same name, so re-applying never stacks
// duplicate assignments.
func RoleAssignmentName(scope, roleDefinitionID, principalID string) string {
	seed := strings.ToLower(scope) + "|" + strings.ToLower(roleDefinitionID) + "|" + strings.ToLower(principalID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}
