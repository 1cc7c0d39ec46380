package feishu

import (
	"context"
	"net/url"
	"strings"

	larkwiki "github.com/larksuite/oapi-sdk-go/v3/service/wiki/v2"
)

// LocatorKind classifies a document locator.
type LocatorKind string

const (
	LocatorWiki      LocatorKind = "wiki"      // knowledge-space node, needs one lookup
	LocatorDocx      LocatorKind = "docx"      // document URL carrying the id
	LocatorCanonical LocatorKind = "canonical" // bare document id
)

// Locator is a parsed document reference.
type Locator struct {
	Kind  LocatorKind
	Token string
	Raw   string
}

// ParseLocator recognizes wiki and docx links and treats anything else as a
// canonical document id.
func ParseLocator(raw string) Locator {
	raw = strings.TrimSpace(raw)
	loc := Locator{Kind: LocatorCanonical, Token: raw, Raw: raw}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return loc
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		switch segments[i] {
		case "wiki":
			return Locator{Kind: LocatorWiki, Token: segments[i+1], Raw: raw}
		case "docx":
			return Locator{Kind: LocatorDocx, Token: segments[i+1], Raw: raw}
		}
	}

	return loc
}

// ResolveDocumentID maps a locator to a document id. A failed wiki lookup
// falls back to the wiki token itself; the returned warning says so.
func (c *Client) ResolveDocumentID(ctx context.Context, loc Locator) (id string, warning string) {
	if loc.Kind != LocatorWiki {
		return loc.Token, ""
	}

	req := larkwiki.NewGetNodeSpaceReqBuilder().Token(loc.Token).Build()
	resp, err := c.sdk.Wiki.V2.Space.GetNode(ctx, req)
	if err == nil && !resp.Success() {
		err = statusError(resp.ApiResp, resp.Code, resp.Msg)
	}
	if err == nil && resp.Data != nil && resp.Data.Node != nil {
		if objToken := value(resp.Data.Node.ObjToken); objToken != "" {
			c.log.Debug().Str("wiki_token", loc.Token).Str("doc_id", objToken).Msg("wiki node resolved")
			return objToken, ""
		}
	}

	if err == nil {
		warning = "wiki node " + loc.Token + " has no object token, using it as the document id"
	} else {
		warning = "wiki lookup for " + loc.Token + " failed (" + err.Error() + "), using it as the document id"
	}
	c.log.Warn().Str("wiki_token", loc.Token).Err(err).Msg("wiki lookup failed")
	return loc.Token, warning
}
