package extract

import (
	"context"
)

// Feed is one search result.
type Feed struct {
	ID        string `json:"id"`
	XsecToken string `json:"xsec_token"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	User      string `json:"user"`
	Likes     string `json:"likes"`
	Cover     string `json:"cover,omitempty"`
}

// Detail is one note's content and counters.
type Detail struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Desc       string   `json:"desc"`
	Type       string   `json:"type"`
	User       string   `json:"user"`
	UserID     string   `json:"user_id"`
	Time       int64    `json:"time"`
	IPLocation string   `json:"ip_location,omitempty"`
	Likes      string   `json:"likes"`
	Collects   string   `json:"collects"`
	Comments   string   `json:"comments"`
	Shares     string   `json:"shares"`
	Images     []string `json:"images,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Comment is one top-level comment.
type Comment struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	User       string `json:"user"`
	Likes      string `json:"likes"`
	IPLocation string `json:"ip_location,omitempty"`
	Time       int64  `json:"time"`
	SubCount   string `json:"sub_comment_count"`
}

// Mention is one entry of the comments-and-@ notification feed.
type Mention struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	User      string `json:"user"`
	Time      int64  `json:"time"`
	NoteID    string `json:"note_id"`
	XsecToken string `json:"xsec_token"`
}

// NoteMetrics is one dashboard row as reported. Absent metrics are nil.
type NoteMetrics struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	PostTime       *float64    `json:"post_time"`
	Impressions    interface{} `json:"imp_count"`
	Views          interface{} `json:"read_count"`
	CoverClickRate interface{} `json:"cover_click_rate"`
	Likes          interface{} `json:"like_count"`
	Comments       interface{} `json:"comment_count"`
	Favorites      interface{} `json:"fav_count"`
	NewFollowers   interface{} `json:"increase_fans_count"`
	Shares         interface{} `json:"share_count"`
	ViewTimeAvg    interface{} `json:"view_time_avg"`
	Danmaku        interface{} `json:"danmaku_count"`
}

// PostResult is the service's answer to a note or comment post.
type PostResult struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// APIStatus is the envelope every web API response carries.
type APIStatus struct {
	OK      bool   `json:"ok"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ContentPage is a dashboard response.
type ContentPage struct {
	Total interface{}   `json:"total"`
	Notes []NoteMetrics `json:"notes"`
}

var (
	searchNotes = MustCompile("search_notes", `
		.data.items[]?
		| select((.model_type // "note") == "note")
		| {
			id: (.id // ""),
			xsec_token: (.xsec_token // ""),
			title: (.note_card.display_title // ""),
			type: (.note_card.type // ""),
			user: (.note_card.user.nickname // .note_card.user.nick_name // ""),
			likes: ((.note_card.interact_info.liked_count // "") | tostring),
			cover: (.note_card.cover.url_default // .note_card.cover.url // "")
		}`)

	initialFeeds = MustCompile("initial_feeds", `
		.[]?
		| select((.modelType // .model_type // "note") == "note")
		| {
			id: (.id // ""),
			xsec_token: (.xsecToken // .xsec_token // ""),
			title: (.noteCard.displayTitle // ""),
			type: (.noteCard.type // ""),
			user: (.noteCard.user.nickname // .noteCard.user.nickName // ""),
			likes: ((.noteCard.interactInfo.likedCount // "") | tostring),
			cover: (.noteCard.cover.urlDefault // .noteCard.cover.url // "")
		}`)

	noteDetail = MustCompile("note_detail", `
		.note // .
		| {
			id: (.noteId // .id // ""),
			title: (.title // ""),
			desc: (.desc // ""),
			type: (.type // ""),
			user: (.user.nickname // .user.nickName // ""),
			user_id: (.user.userId // ""),
			time: (.time // 0),
			ip_location: (.ipLocation // ""),
			likes: ((.interactInfo.likedCount // "") | tostring),
			collects: ((.interactInfo.collectedCount // "") | tostring),
			comments: ((.interactInfo.commentCount // "") | tostring),
			shares: ((.interactInfo.shareCount // "") | tostring),
			images: [.imageList[]? | (.urlDefault // .url // empty)],
			tags: [.tagList[]? | (.name // empty)]
		}`)

	commentPage = MustCompile("comment_page", `
		.data.comments[]?
		| {
			id: (.id // ""),
			content: (.content // ""),
			user: (.user_info.nickname // ""),
			likes: ((.like_count // "") | tostring),
			ip_location: (.ip_location // ""),
			time: (.create_time // 0),
			sub_comment_count: ((.sub_comment_count // "") | tostring)
		}`)

	mentions = MustCompile("mentions", `
		.data.message_list[]?
		| {
			id: (.id // ""),
			type: (.type // ""),
			title: (.title // ""),
			content: (.comment_info.content // .item_info.content // ""),
			user: (.user_info.nickname // ""),
			time: (.time // 0),
			note_id: (.item_info.id // ""),
			xsec_token: (.item_info.xsec_token // "")
		}`)

	apiStatus = MustCompile("api_status", `
		if type == "object" then
			{
				ok: ((.success != false) and ((.code // 0) == 0)),
				code: ((.code // 0) | if type == "number" then floor else -1 end),
				message: ((.msg // .message // "") | tostring)
			}
		else
			{ok: false, code: -1, message: "response is not a JSON object"}
		end`)

	postResult = MustCompile("post_result", `
		{
			ok: ((.success != false) and ((.code // 0) == 0)),
			id: ((.data.id // .data.note_id // .data.comment.id // "") | tostring),
			message: (.msg // .message // "")
		}`)

	contentPage = MustCompile("content_page", `
		.data
		| {
			total: (.total // null),
			notes: [
				(if (.note_infos | type) == "array" then .note_infos[] else empty end)
				| {
					id: (.id // ""),
					title: (.title // ""),
					post_time: (if (.post_time | type) == "number" then .post_time else null end),
					imp_count, read_count,
					cover_click_rate: .coverClickRate,
					like_count, comment_count, fav_count, increase_fans_count,
					share_count, view_time_avg, danmaku_count
				}
			]
		}`)
)

// SearchNotes extracts feeds from a captured search response.
func SearchNotes(ctx context.Context, payload interface{}) ([]Feed, error) {
	var out []Feed
	return out, searchNotes.Into(ctx, payload, &out)
}

// InitialFeeds extracts feeds from the page's initial search state.
func InitialFeeds(ctx context.Context, feeds interface{}) ([]Feed, error) {
	var out []Feed
	return out, initialFeeds.Into(ctx, feeds, &out)
}

// NoteDetail extracts a note from a noteDetailMap entry.
func NoteDetail(ctx context.Context, entry interface{}) (*Detail, error) {
	var out []Detail
	if err := noteDetail.Into(ctx, entry, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// Comments extracts top-level comments from a captured comment page.
func Comments(ctx context.Context, payload interface{}) ([]Comment, error) {
	var out []Comment
	return out, commentPage.Into(ctx, payload, &out)
}

// Mentions extracts notification entries from a captured mentions page.
func Mentions(ctx context.Context, payload interface{}) ([]Mention, error) {
	var out []Mention
	return out, mentions.Into(ctx, payload, &out)
}

// Status reads the success flag and code of a captured response.
func Status(ctx context.Context, payload interface{}) (*APIStatus, error) {
	var out []APIStatus
	if err := apiStatus.Into(ctx, payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return &APIStatus{}, nil
	}
	return &out[0], nil
}

// Post reads a captured publish or comment response.
func Post(ctx context.Context, payload interface{}) (*PostResult, error) {
	var out []PostResult
	if err := postResult.Into(ctx, payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return &PostResult{}, nil
	}
	return &out[0], nil
}

// Content extracts dashboard rows from a captured analysis response.
func Content(ctx context.Context, payload interface{}) (*ContentPage, error) {
	var out []ContentPage
	if err := contentPage.Into(ctx, payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return &ContentPage{}, nil
	}
	return &out[0], nil
}
