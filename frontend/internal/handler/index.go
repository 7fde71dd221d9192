package handler

import "net/http"

func (h *Handler) IndexGetHandler(w http.ResponseWriter, r *http.Request) {
	h.renderTemplate(w, r, "index.html", "", nil)
}
