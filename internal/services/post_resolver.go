package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tablebuzz/api/internal/ads"
	"github.com/tablebuzz/api/internal/domain"
)

// ErrUnparseablePostURL indicates that neither the platform lookup nor any
// local pattern could extract a post id from the supplied URL.
var ErrUnparseablePostURL = errors.New("services: post url could not be parsed")

// PostResolverLogger defines the logging contract for resolver diagnostics.
type PostResolverLogger func(ctx context.Context, event string, fields map[string]any)

// PostResolverDeps bundles the dependencies required to construct a PostResolver.
type PostResolverDeps struct {
	Provider ads.Provider
	Logger   PostResolverLogger
	// SkipVerification disables the metadata read-back on resolved posts.
	SkipVerification bool
}

// PostResolver maps user-pasted post URLs to platform post references. The
// platform lookup is authoritative; heuristic URL parsing only runs when the
// lookup yields nothing, because pasted links come in many shapes the API no
// longer resolves (mobile links, share redirects, legacy permalink formats).
type PostResolver struct {
	provider   ads.Provider
	logger     PostResolverLogger
	skipVerify bool
}

// NewPostResolver validates dependencies and returns a ready resolver.
func NewPostResolver(deps PostResolverDeps) (*PostResolver, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("services: post resolver requires provider")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PostResolver{provider: deps.Provider, logger: logger, skipVerify: deps.SkipVerification}, nil
}

// postIDPattern is one heuristic for pulling a post id out of a URL. Patterns
// are tried strictly in order; the first hit wins.
type postIDPattern struct {
	name    string
	extract func(u *url.URL) string
}

var (
	postsPathRe     = regexp.MustCompile(`/posts/([0-9A-Za-z]+)`)
	photosPathRe    = regexp.MustCompile(`/photos/(?:[^/]+/)?([0-9]+)`)
	pfbidTokenRe    = regexp.MustCompile(`(pfbid[0-9A-Za-z]+)`)
	numericTailRe   = regexp.MustCompile(`/([0-9]{6,})/?$`)
	// Tried most-specific first. fbid/id are deliberately last: share links
	// often carry the page id (not the post id) under those names, so the
	// unambiguous post-scoped params must win when both are present.
	fallbackQueryID = []string{"story_fbid", "fbid", "post_id", "id"}
)

// postIDPatterns is the ordered fallback chain applied after the remote
// lookup. Order matters: specific path shapes before generic query params.
var postIDPatterns = []postIDPattern{
	{
		name: "posts_path",
		extract: func(u *url.URL) string {
			if m := postsPathRe.FindStringSubmatch(u.Path); m != nil {
				return m[1]
			}
			return ""
		},
	},
	{
		name: "photos_path",
		extract: func(u *url.URL) string {
			if m := photosPathRe.FindStringSubmatch(u.Path); m != nil {
				return m[1]
			}
			return ""
		},
	},
	{
		name: "photo_fbid_query",
		extract: func(u *url.URL) string {
			if strings.Contains(u.Path, "/photo") {
				return strings.TrimSpace(u.Query().Get("fbid"))
			}
			return ""
		},
	},
	{
		name: "permalink_story_fbid",
		extract: func(u *url.URL) string {
			if strings.Contains(u.Path, "permalink.php") {
				return strings.TrimSpace(u.Query().Get("story_fbid"))
			}
			return ""
		},
	},
	{
		name: "pfbid_token",
		extract: func(u *url.URL) string {
			if m := pfbidTokenRe.FindStringSubmatch(u.Path); m != nil {
				return m[1]
			}
			return ""
		},
	},
	{
		name: "numeric_tail",
		extract: func(u *url.URL) string {
			if m := numericTailRe.FindStringSubmatch(u.Path); m != nil {
				return m[1]
			}
			return ""
		},
	},
	{
		name: "query_params",
		extract: func(u *url.URL) string {
			query := u.Query()
			for _, key := range fallbackQueryID {
				if v := strings.TrimSpace(query.Get(key)); v != "" {
					return v
				}
			}
			return ""
		},
	},
}

// Resolve turns a post URL into a full post reference for the given page. The
// returned ObjectStoryID is always "{pageID}_{postID}" regardless of how the
// post id was obtained.
func (r *PostResolver) Resolve(ctx context.Context, pageID, postURL, accessToken string) (domain.ResolvedPostReference, error) {
	if r == nil {
		return domain.ResolvedPostReference{}, fmt.Errorf("services: post resolver is nil")
	}
	trimmed := strings.TrimSpace(postURL)
	if trimmed == "" {
		return domain.ResolvedPostReference{}, ErrUnparseablePostURL
	}

	postID, err := r.provider.LookupPostID(ctx, trimmed, accessToken)
	if err != nil {
		r.logger(ctx, "services.post_resolver.lookup_failed", map[string]any{
			"postUrl": trimmed,
			"error":   err.Error(),
		})
	}
	if postID == "" {
		postID = extractPostID(trimmed)
	}
	if postID == "" {
		return domain.ResolvedPostReference{}, ErrUnparseablePostURL
	}

	// Some extraction paths return "{pageID}_{postID}" composites already.
	if idx := strings.LastIndex(postID, "_"); idx > 0 {
		postID = postID[idx+1:]
	}

	ref := domain.ResolvedPostReference{
		PageID:        pageID,
		PostID:        postID,
		ObjectStoryID: pageID + "_" + postID,
	}
	if !r.skipVerify {
		r.verifyPost(ctx, ref, accessToken)
	}
	return ref, nil
}

// extractPostID runs the ordered fallback chain against one URL.
func extractPostID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, pattern := range postIDPatterns {
		if id := pattern.extract(u); id != "" {
			return id
		}
	}
	return ""
}

// verifyPost checks that the resolved post actually exists and is readable
// with the current token. Failures are logged, never fatal: lack of the
// pages_read_engagement permission would otherwise block promoting posts that
// the ads endpoints accept fine.
func (r *PostResolver) verifyPost(ctx context.Context, ref domain.ResolvedPostReference, accessToken string) {
	meta, err := r.provider.GetPostMetadata(ctx, ref.ObjectStoryID, accessToken)
	if err != nil {
		fields := map[string]any{
			"objectStoryId": ref.ObjectStoryID,
			"error":         err.Error(),
		}
		var platformErr *ads.PlatformError
		if errors.As(err, &platformErr) && platformErr.IsPermissionDenied() {
			fields["permissionDenied"] = true
		}
		r.logger(ctx, "services.post_resolver.verify_failed", fields)
		return
	}
	if !meta.Published {
		r.logger(ctx, "services.post_resolver.post_unpublished", map[string]any{
			"objectStoryId": ref.ObjectStoryID,
		})
	}
}
