// Package api describes the two clan API endpoints the watcher talks to:
// the name search and the bulk clan detail lookup.
package api

import (
	"strconv"
	"strings"
)

// Kind identifies which request shape produced a response.
type Kind string

const (
	// KindSearch resolves a clan name into clan ids.
	KindSearch Kind = "search"

	// KindDetails refreshes a group of clans by id.
	KindDetails Kind = "details"
	// KindList pages through the clan catalogue by id.
	KindList Kind = "list"
)

// Field lists requested from each endpoint.
const (
	SearchFields  = "name,clan_id"
	ListFields    = "clan_id"
	DetailsFields = "name,clan_id,tag,is_clan_disbanded,old_name,members_count,description,members"
)

// Endpoints holds the absolute URLs of the clan API.
type Endpoints struct {
	Search  string
	Details string
}

// NewEndpoints derives the endpoint URLs from an API base such as
// "https://api.worldoftanks.eu/wot".
func NewEndpoints(baseURL string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	return Endpoints{
		Search:  base + "/clans/list/",
		Details: base + "/clans/info/",
	}
}

// Request is a single GET against the clan API.
type Request struct {
	Kind     Kind
	Endpoint string
	Params   map[string]string

	// SearchedName is the registry name a search request was issued for.
	SearchedName string

	// Page is the 1-based page of a search request.
	Page int

	// ClanIDs are the ids covered by a details request.
	ClanIDs []int64
}

// NewSearchRequest builds the name search request for one page.
func NewSearchRequest(ep Endpoints, applicationID, name string, page int) Request {
	return Request{
		Kind:     KindSearch,
		Endpoint: ep.Search,
		Params: map[string]string{
			"application_id": applicationID,
			"search":         name,
			"page_no":        strconv.Itoa(page),
			"fields":         SearchFields,
		},
		SearchedName: name,
		Page:         page,
	}
}

// NewListRequest builds one page of the clan catalogue. An empty search lists
// every clan.
func NewListRequest(ep Endpoints, applicationID, search string, page int) Request {
	params := map[string]string{
		"application_id": applicationID,
		"page_no":        strconv.Itoa(page),
		"fields":         ListFields,
	}
	if search != "" {
		params["search"] = search
	}
	return Request{
		Kind:         KindList,
		Endpoint:     ep.Search,
		Params:       params,
		SearchedName: search,
		Page:         page,
	}
}

// NewDetailsRequest builds one grouped detail request covering ids.
func NewDetailsRequest(ep Endpoints, applicationID string, ids []int64) Request {
	copied := make([]int64, len(ids))
	copy(copied, ids)
	return Request{
		Kind:     KindDetails,
		Endpoint: ep.Details,
		Params: map[string]string{
			"application_id": applicationID,
			"clan_id":        JoinIDs(copied),
			"fields":         DetailsFields,
		},
		ClanIDs: copied,
	}
}

// JoinIDs renders ids as the comma separated list the API expects.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
