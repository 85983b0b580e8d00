package mediawiki

import "encoding/json"

// CategoryMember is one page listed by list=categorymembers.
type CategoryMember struct {
	PageID int    `json:"pageid,omitempty"`
	NS     int    `json:"ns"`
	Title  string `json:"title" validate:"required"`
}

// Continuation is the cursor MediaWiki returns when more members exist.
// Both values are sent back verbatim on the next request.
type Continuation struct {
	Continue   string `json:"continue"`
	CMContinue string `json:"cmcontinue"`
}

// IsZero reports whether c carries no continuation values.
func (c Continuation) IsZero() bool {
	return c.Continue == "" && c.CMContinue == ""
}

// MembersRequest describes one categorymembers request.
type MembersRequest struct {
	Category string
	Limit    int
	Continue *Continuation // nil on the first request
}

// MembersBatch is one parsed page of results.
type MembersBatch struct {
	Members []CategoryMember

	// Continue is nil when the response had no continue block.
	Continue *Continuation
}

// categoryMembersResponse mirrors the JSON returned for list=categorymembers.
// Pointers distinguish absent objects from empty ones.
type categoryMembersResponse struct {
	BatchComplete json.RawMessage            `json:"batchcomplete,omitempty"`
	Continue      *Continuation              `json:"continue,omitempty"`
	Query         *categoryMembersQuery      `json:"query,omitempty"`
	Error         *apiErrorBody              `json:"error,omitempty"`
	Warnings      map[string]json.RawMessage `json:"warnings,omitempty"`
}

type categoryMembersQuery struct {
	CategoryMembers *[]CategoryMember `json:"categorymembers"`
}

type apiErrorBody struct {
	Code string `json:"code"`
	Info string `json:"info"`
}
