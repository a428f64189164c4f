package entry

import "strings"

// Paths are the request paths a type is exchanged under.
type Paths struct {
	// Post receives pushed entries.
	Post string
	// List serves the full listing.
	List string
	// Serials serves the (id, version) digest listing.
	Serials string
	// Item serves a single entry as Item + "/" + id.
	Item string
}

var paths = map[Type]Paths{
	TypeInfoService: {
		Post:    "/infoservice",
		List:    "/infoservices",
		Serials: "/infoserviceserials",
		Item:    "/infoservice",
	},
	TypeMixCascade: {
		Post:    "/cascade",
		List:    "/cascades",
		Serials: "/cascadeserials",
		Item:    "/cascadeinfo",
	},
	TypeMixInfo: {
		Post:    "/helo",
		List:    "/mixes",
		Serials: "/mixserials",
		Item:    "/mixinfo",
	},
	TypeStatus: {
		Post:    "/feedback",
		List:    "/mixcascadestatus",
		Serials: "/statusserials",
		Item:    "/mixcascadestatus",
	},
	TypePaymentInstance: {
		Post:    "/paymentinstance",
		List:    "/paymentinstances",
		Serials: "/paymentinstanceserials",
		Item:    "/paymentinstance",
	},
}

// Paths returns the request paths for t. Types that are never exchanged
// return the zero value.
func (t Type) Paths() Paths { return paths[t] }

// ItemPath returns the path of a single entry.
func (t Type) ItemPath(id string) string { return t.Paths().Item + "/" + id }

// RouteVariant distinguishes the kinds of GET request.
type RouteVariant uint8

const (
	RouteList RouteVariant = iota + 1
	RouteSerials
	RouteItem
)

// Route is a resolved request path.
type Route struct {
	Type    Type
	Variant RouteVariant
	ID      string
}

// ResolvePost resolves the type pushed to path.
func ResolvePost(path string) (Type, bool) {
	for t, p := range paths {
		if p.Post == path {
			return t, true
		}
	}
	return 0, false
}

// ResolveGet resolves a fetch path. Exact list and serials paths win over
// item prefixes, so "/mixcascadestatus" lists while "/mixcascadestatus/x"
// fetches entry x.
func ResolveGet(path string) (Route, bool) {
	for t, p := range paths {
		switch path {
		case p.List:
			return Route{Type: t, Variant: RouteList}, true
		case p.Serials:
			return Route{Type: t, Variant: RouteSerials}, true
		}
	}
	for t, p := range paths {
		if id := strings.TrimPrefix(path, p.Item+"/"); id != path && id != "" && !strings.Contains(id, "/") {
			return Route{Type: t, Variant: RouteItem, ID: id}, true
		}
	}
	return Route{}, false
}
