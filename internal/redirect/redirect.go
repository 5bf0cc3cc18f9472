// Package redirect turns a completed redirect response into the next hop of
// a redirect chain, or into a terminal status when the chain must end.
package redirect

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// PriorityStep is added to the priority of every hop down a chain.
const PriorityStep = 0.5

// IsRedirect reports whether status is a redirect that carries a Location.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Resolve follows the Location header of order. It returns order, updated
// with a terminal status when the chain must stop, and the next hop or nil.
//
// The next hop links back to order through Last, keeps the chain's referer
// and type, and is PriorityStep more urgent than order. Resolve never
// assigns IDs.
func Resolve(order *visit.Order, maxPath int) (*visit.Order, *visit.Order) {
	location := strings.TrimSpace(order.Headers.Get("Location"))
	if location == "" {
		return terminate(order, visit.StatusMissingRedirectLocation, "redirect without location")
	}
	target, err := order.URL.Resolve(location)
	if err != nil {
		return terminate(order, visit.StatusInvalidRedirectLocation, err.Error())
	}

	key := target.HashKey()
	for hop := order; hop != nil; hop = hop.Last {
		if hop.URL.HashKey() == key {
			return terminate(order, visit.StatusRedirectLoop, "redirect loop to "+target.String())
		}
	}
	if order.ChainLength() > maxPath {
		return terminate(order, visit.StatusMaxRedirectsExceeded, "redirect chain too long at "+target.String())
	}

	next := &visit.Order{
		URL:      target,
		Type:     order.Type,
		Priority: order.Priority + PriorityStep,
		Last:     order,
		Referer:  order.Root().Referer,
	}
	return order, next
}

func terminate(order *visit.Order, status int, reason string) (*visit.Order, *visit.Order) {
	order.Status = status
	order.Reason = reason
	order.Revisit = nil
	return order, nil
}
