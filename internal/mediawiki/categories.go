package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/unicode/norm"

	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
	"github.com/olgasafonova/wikicat/tracing"
)

const (
	actionCategoryMembers = "categorymembers"
	categoryPrefix        = "Category:"
)

var memberValidator = newMemberValidator()

func newMemberValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// NormalizeCategory trims whitespace, converts the title to NFC (MediaWiki stores
// titles that way) and adds the canonical "Category:" prefix when the title carries
// no namespace. Every MediaWiki accepts the English prefix regardless of content
// language, and local names such as "Kategorie:" or "Thể loại:" are kept as typed.
func NormalizeCategory(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if len(name) >= len(categoryPrefix) && strings.EqualFold(name[:len(categoryPrefix)], categoryPrefix) {
		return name
	}
	if hasNamespace(name) {
		return name
	}
	return categoryPrefix + name
}

// hasNamespace reports whether name starts with "Prefix:Title". A colon followed
// or preceded by a space is part of the title ("Star Trek: TOS").
func hasNamespace(name string) bool {
	i := strings.IndexByte(name, ':')
	if i <= 0 || i == len(name)-1 {
		return false
	}
	return name[i-1] != ' ' && name[i+1] != ' '
}

// membersParams builds the query for one categorymembers request.
func membersParams(req MembersRequest) url.Values {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "categorymembers")
	params.Set("cmtitle", req.Category)
	params.Set("cmprop", "title")
	params.Set("cmtype", "page")
	params.Set("format", "json")
	params.Set("cmlimit", strconv.Itoa(req.Limit))

	if req.Continue != nil {
		params.Set("continue", req.Continue.Continue)
		params.Set("cmcontinue", req.Continue.CMContinue)
	}
	return params
}

// FetchCategoryMembers requests one page of category members.
//
// Errors: *errors.StatusError for non-200 responses, *errors.APIError when the wiki
// returns an error object, *errors.SchemaError when query.categorymembers is missing
// or a member has no title.
func (c *Client) FetchCategoryMembers(ctx context.Context, req MembersRequest) (MembersBatch, error) {
	ctx, span := tracing.StartSpan(ctx, "wiki."+actionCategoryMembers)
	defer span.End()

	cmcontinue := ""
	if req.Continue != nil {
		cmcontinue = req.Continue.CMContinue
	}
	tracing.AddWikiAttributes(span, actionCategoryMembers, cmcontinue)
	tracing.AddCategoryAttributes(span, req.Category, req.Limit)

	body, err := c.get(ctx, actionCategoryMembers, membersParams(req))
	if err != nil {
		tracing.RecordError(span, err)
		span.SetStatus(codes.Error, err.Error())
		return MembersBatch{}, err
	}

	batch, err := c.parseMembers(ctx, body)
	if err != nil {
		tracing.RecordError(span, err)
		span.SetStatus(codes.Error, err.Error())
		return MembersBatch{}, err
	}

	span.SetAttributes(
		attribute.Int("wiki.members_returned", len(batch.Members)),
		attribute.Bool("wiki.has_continue", batch.Continue != nil),
	)
	span.SetStatus(codes.Ok, "")
	return batch, nil
}

func (c *Client) parseMembers(ctx context.Context, body []byte) (MembersBatch, error) {
	var resp categoryMembersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return MembersBatch{}, &wikierrors.SchemaError{Path: "$", Message: "invalid JSON: " + err.Error()}
	}

	if resp.Error != nil {
		return MembersBatch{}, &wikierrors.APIError{Code: resp.Error.Code, Info: resp.Error.Info}
	}

	if len(resp.Warnings) > 0 {
		modules := make([]string, 0, len(resp.Warnings))
		for m := range resp.Warnings {
			modules = append(modules, m)
		}
		sort.Strings(modules)
		c.logger.WarnContext(ctx, "API returned warnings", "modules", modules)
	}

	if resp.Query == nil {
		return MembersBatch{}, wikierrors.NewSchemaError("query")
	}
	if resp.Query.CategoryMembers == nil {
		return MembersBatch{}, wikierrors.NewSchemaError("query.categorymembers")
	}

	members := *resp.Query.CategoryMembers
	for i := range members {
		if err := memberValidator.Struct(&members[i]); err != nil {
			path := fmt.Sprintf("query.categorymembers[%d]", i)
			if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
				path += "." + verrs[0].Field()
				return MembersBatch{}, &wikierrors.SchemaError{Path: path, Message: verrs[0].Field() + " is required"}
			}
			return MembersBatch{}, &wikierrors.SchemaError{Path: path, Message: err.Error()}
		}
	}

	return MembersBatch{
		Members:  members,
		Continue: resp.Continue,
	}, nil
}
