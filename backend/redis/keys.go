package redis

import (
	"fmt"
)

// workflowKey returns the key holding the serialized workflow document.
func workflowKey(keyPrefix, workflowID string) string {
	return fmt.Sprintf("%vworkflow:%v", keyPrefix, workflowID)
}

// workflowsByCreation returns the key for the ZSET of all workflow ids
// scored by creation time. Used for ordered listing.
func workflowsByCreation(keyPrefix string) string {
	return keyPrefix + "workflows-by-creation"
}

// workflowsByStatus returns the key for the SET of workflow ids with the
// given status.
func workflowsByStatus(keyPrefix, status string) string {
	return fmt.Sprintf("%vworkflows-by-status:%v", keyPrefix, status)
}

// workflowsByCreator returns the key for the SET of workflow ids created by
// the given creator.
func workflowsByCreator(keyPrefix, createdBy string) string {
	return fmt.Sprintf("%vworkflows-by-creator:%v", keyPrefix, createdBy)
}
