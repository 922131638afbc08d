package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxline/mailsync/interfaces"
)

// StartSync starts sync for the account named by ?email=, or for every
// sync-active account when the parameter is absent. The response maps each
// targeted email to its result string.
func StartSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := syncService.StartSync(c.Request.Context(), c.Query("email"))
		c.JSON(http.StatusOK, results)
	}
}

// StopSync stops sync for the account named by ?email=, or for every
// account running on this host when the parameter is absent.
func StopSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := syncService.StopSync(c.Request.Context(), c.Query("email"))
		c.JSON(http.StatusOK, results)
	}
}

// AccountSyncStatus reports the folder states of one account. Unknown
// accounts yield a JSON null, not a 404: callers poll this endpoint while
// sync spins up and a null is the documented "not here" answer.
func AccountSyncStatus(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := syncService.SyncStatus(c.Request.Context(), c.Param("id"))
		c.JSON(http.StatusOK, status)
	}
}

// SyncStatus reports the folder states of every account on this host.
func SyncStatus(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, syncService.Status(c.Request.Context()))
	}
}
