package api

import (
	"net/http"
	"strings"

	"vigil/internal/cache"
)

type cacheStatsResponse struct {
	Root        string     `json:"root"`
	ContentHash cacheStats `json:"content_hash"`
	Symlink     cacheStats `json:"symlink_target"`
}

func cacheStatsOf(stats cache.Stats) cacheStats {
	return cacheStats{
		Hit:    stats.Hit,
		Share:  stats.Share,
		Miss:   stats.Miss,
		Evict:  stats.Evict,
		Store:  stats.Store,
		Load:   stats.Load,
		Erase:  stats.Erase,
		Clears: stats.Clear,
		Size:   stats.Size,
	}
}

func (h *RestHandler) handleCaches(w http.ResponseWriter, r *http.Request) *apiError {
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}
	treeView := resolved.View()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cacheStatsResponse{
			Root:        resolved.Path(),
			ContentHash: cacheStatsOf(treeView.ContentHashCacheStats()),
			Symlink:     cacheStatsOf(treeView.SymlinkCacheStats()),
		})
		return nil
	case http.MethodDelete:
		which := strings.TrimSpace(r.URL.Query().Get("cache"))
		switch which {
		case "":
			treeView.ClearContentHashCache()
			treeView.ClearSymlinkCache()
		case "content_hash":
			treeView.ClearContentHashCache()
		case "symlink_target":
			treeView.ClearSymlinkCache()
		default:
			return &apiError{Status: http.StatusBadRequest, Message: "unknown cache " + which}
		}
		writeJSON(w, http.StatusOK, cacheStatsResponse{
			Root:        resolved.Path(),
			ContentHash: cacheStatsOf(treeView.ContentHashCacheStats()),
			Symlink:     cacheStatsOf(treeView.SymlinkCacheStats()),
		})
		return nil
	default:
		return methodNotAllowed(w, "GET, DELETE")
	}
}
