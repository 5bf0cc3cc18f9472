// Package visit defines the visit order record and the collaborator
// interfaces shared by the scheduler, the pipeline and the work pollers.
package visit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

// Type classifies what a visit order fetches.
type Type string

// Order types understood by the scheduler. Types only matter for routing to
// type-specific host configuration.
const (
	TypeFeed    Type = "FEED"
	TypePage    Type = "PAGE"
	TypeRobots  Type = "ROBOTS"
	TypeSitemap Type = "SITEMAP"
)

// ParseType maps a case-insensitive name to a Type. The empty string maps to
// the empty Type, meaning "any type" in host configuration.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case "", TypeFeed, TypePage, TypeRobots, TypeSitemap:
		return t, nil
	default:
		return "", fmt.Errorf("unknown visit type %q", s)
	}
}

// Terminal status values set by the pipeline. They sit outside the HTTP
// range so they never collide with a response code. Zero means unset.
const (
	StatusFetchFailed             = -1
	StatusRedirectLoop            = -20
	StatusMaxRedirectsExceeded    = -21
	StatusMissingRedirectLocation = -22
	StatusInvalidRedirectLocation = -23
)

// StatusText returns a short label for a status, used in logs and metric labels.
func StatusText(status int) string {
	switch status {
	case 0:
		return "unset"
	case StatusFetchFailed:
		return "fetch_failed"
	case StatusRedirectLoop:
		return "redirect_loop"
	case StatusMaxRedirectsExceeded:
		return "max_redirects_exceeded"
	case StatusMissingRedirectLocation:
		return "missing_redirect_location"
	case StatusInvalidRedirectLocation:
		return "invalid_redirect_location"
	default:
		return fmt.Sprintf("%d", status)
	}
}

// Order is a unit of scheduled work. It is owned by exactly one component at
// a time: the queue while queued, the worker that acquired it while in flight.
type Order struct {
	ID             string
	URL            visiturl.URL
	Type           Type
	Priority       float64
	Status         int
	LastVisit      time.Time
	NextVisitAfter time.Time

	// Last is the previous hop of a redirect chain.
	Last *Order
	// Referer is the document that linked here; Referent is the document this
	// order refers to (for example the target of a canonical link).
	Referer  *Order
	Referent *Order
	// Revisit is a follow-up order attached by the pipeline. The worker hands
	// it to the queue on release.
	Revisit *Order

	Headers http.Header
	Reason  string
}

// NewOrder builds an order for u.
func NewOrder(u visiturl.URL, t Type, priority float64) *Order {
	return &Order{URL: u, Type: t, Priority: priority}
}

// Root returns the first order of the redirect chain o belongs to.
func (o *Order) Root() *Order {
	root := o
	for root.Last != nil {
		root = root.Last
	}
	return root
}

// ChainLength counts the orders in the redirect chain ending at o, o included.
func (o *Order) ChainLength() int {
	n := 0
	for cur := o; cur != nil; cur = cur.Last {
		n++
	}
	return n
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s (%.2f)", o.Type, o.URL, o.Priority)
}
