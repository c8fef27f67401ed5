package upstream

import (
	"net/url"
	"strings"
)

// Endpoints builds upstream URLs relative to a base such as https://www.reddit.com.
type Endpoints struct {
	BaseURL string
}

func (e Endpoints) Listing(subreddit, after string) string {
	u := e.base() + "/r/" + url.PathEscape(subreddit) + ".json"
	if after != "" {
		u += "?" + url.Values{"after": {after}}.Encode()
	}
	return u
}

func (e Endpoints) Post(id string) string {
	return e.base() + "/comments/" + url.PathEscape(id) + ".json"
}

func (e Endpoints) Search(q string) string {
	return e.base() + "/search.json?" + url.Values{"q": {q}}.Encode()
}

func (e Endpoints) base() string {
	return strings.TrimRight(e.BaseURL, "/")
}
