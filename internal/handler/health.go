package handler

import (
	"net/http"

	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/version"
)

func (h *RouteHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	message := "Up and grateful"

	data := map[string]any{"version": version.Get()}
	err := response.JSONOkResponse(w, data, message, nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
