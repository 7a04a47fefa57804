// Package debugapi exposes read-only HTTP introspection endpoints over the
// router's live state, for operators debugging a running cluster controller.
package debugapi

import (
	"encoding/json"
	"net/http"

	"github.com/coremesh/ccrouter/router"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// RoutingTableView is the subset of *router.RoutingTable debugapi needs; kept
// narrow so tests can supply a fake without constructing a full dispatcher.
type RoutingTableView interface {
	Lookup(pid string) (router.RoutingEntry, bool)
	All() map[string]router.RoutingEntry
}

// QueueView exposes the per-recipient queue length.
type QueueView interface {
	LenForPID(pid string) int
}

// MulticastView exposes the current subscriber set for a multicast id.
type MulticastView interface {
	Receivers(multicastID string) []string
}

// Handler builds the debug introspection mux.
type Handler struct {
	routingTable RoutingTableView
	queue        QueueView
	multicast    MulticastView
	log          *log.Entry
}

// New constructs the debug introspection handler wired to the router's live
// collaborators.
func New(routingTable RoutingTableView, queue QueueView, multicast MulticastView, logger *log.Entry) http.Handler {
	h := &Handler{
		routingTable: routingTable,
		queue:        queue,
		multicast:    multicast,
		log:          logger.WithField("component", "debug-api"),
	}

	r := httprouter.New()
	r.GET("/routingtable", h.listRoutingTable)
	r.GET("/routingtable/:pid", h.getRoutingEntry)
	r.GET("/multicast/:multicastId", h.getMulticastReceivers)
	r.GET("/queue/:pid/length", h.getQueueLength)
	return r
}

type routingEntryView struct {
	PID               string `json:"pid"`
	Address           string `json:"address"`
	IsGloballyVisible bool   `json:"isGloballyVisible"`
	ExpiryDateMs      int64  `json:"expiryDateMs"`
	IsSticky          bool   `json:"isSticky"`
}

func (h *Handler) listRoutingTable(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	all := h.routingTable.All()
	out := make(map[string]routingEntryView, len(all))
	for pid, entry := range all {
		out[pid] = routingEntryView{
			PID:               pid,
			Address:           entry.Address.String(),
			IsGloballyVisible: entry.IsGloballyVisible,
			ExpiryDateMs:      entry.ExpiryDateMs,
			IsSticky:          entry.IsSticky,
		}
	}
	writeJSON(w, out)
}

func (h *Handler) getRoutingEntry(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	pid := p.ByName("pid")
	entry, ok := h.routingTable.Lookup(pid)
	if !ok {
		http.Error(w, "no routing entry for "+pid, http.StatusNotFound)
		return
	}
	writeJSON(w, routingEntryView{
		PID:               pid,
		Address:           entry.Address.String(),
		IsGloballyVisible: entry.IsGloballyVisible,
		ExpiryDateMs:      entry.ExpiryDateMs,
		IsSticky:          entry.IsSticky,
	})
}

func (h *Handler) getMulticastReceivers(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	multicastID := p.ByName("multicastId")
	writeJSON(w, map[string]any{
		"multicastId": multicastID,
		"receivers":   h.multicast.Receivers(multicastID),
	})
}

func (h *Handler) getQueueLength(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	pid := p.ByName("pid")
	writeJSON(w, map[string]any{
		"pid":    pid,
		"length": h.queue.LenForPID(pid),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode debug-api response")
	}
}
