// Package feed keeps an in-memory, ordered and de-duplicated list of posts
// consistent while paginated fetches and realtime change events both feed
// into it.
//
// Every function in this file treats its input slice as immutable and returns
// a new slice when something changes, so a snapshot handed to a reader is
// never modified afterwards.
package feed

import (
	"slices"

	"bunnyup/models"

	"github.com/samber/lo"
)

func indexOfPost(posts []models.Post, id int64) int {
	_, idx, ok := lo.FindIndexOf(posts, func(p models.Post) bool { return p.ID == id })
	if !ok {
		return -1
	}
	return idx
}

// InsertPost prepends post unless a post with the same id is already present
func InsertPost(posts []models.Post, post models.Post) []models.Post {
	if indexOfPost(posts, post.ID) >= 0 {
		return posts
	}
	out := make([]models.Post, 0, len(posts)+1)
	out = append(out, post)
	return append(out, posts...)
}

// UpdatePost replaces the body and media reference present in patch on the
// post with the given id. Likes and comments are left untouched.
func UpdatePost(posts []models.Post, id int64, patch models.PostPatch) []models.Post {
	idx := indexOfPost(posts, id)
	if idx < 0 {
		return posts
	}

	updated := posts[idx]
	if patch.Body != nil {
		updated.Body = *patch.Body
	}
	switch {
	case patch.File != nil:
		file := *patch.File
		updated.File = &file
	case patch.ClearFile:
		updated.File = nil
	}

	out := slices.Clone(posts)
	out[idx] = updated
	return out
}

// DeletePost removes the post with the given id, no-op when absent
func DeletePost(posts []models.Post, id int64) []models.Post {
	idx := indexOfPost(posts, id)
	if idx < 0 {
		return posts
	}
	return slices.Delete(slices.Clone(posts), idx, idx+1)
}

// InsertComment prepends comment to the comments of its post. A comment id
// that is already present is ignored since the change feed may redeliver.
func InsertComment(posts []models.Post, postID int64, comment models.Comment) []models.Post {
	idx := indexOfPost(posts, postID)
	if idx < 0 {
		return posts
	}

	post := posts[idx]
	if lo.ContainsBy(post.Comments, func(c models.Comment) bool { return c.ID == comment.ID }) {
		return posts
	}

	comments := make([]models.Comment, 0, len(post.Comments)+1)
	comments = append(comments, comment)
	post.Comments = append(comments, post.Comments...)
	post.CommentCount++

	out := slices.Clone(posts)
	out[idx] = post
	return out
}

// DeleteComment removes the comment from whichever post holds it
func DeleteComment(posts []models.Post, commentID int64) []models.Post {
	var out []models.Post
	for i, post := range posts {
		if !lo.ContainsBy(post.Comments, func(c models.Comment) bool { return c.ID == commentID }) {
			continue
		}
		if out == nil {
			out = slices.Clone(posts)
		}
		post.Comments = lo.Reject(post.Comments, func(c models.Comment, _ int) bool { return c.ID == commentID })
		if post.CommentCount > 0 {
			post.CommentCount--
		}
		out[i] = post
	}
	if out == nil {
		return posts
	}
	return out
}

// HasLiked reports whether likes holds a like by userID
func HasLiked(likes []models.Like, userID string) bool {
	return lo.ContainsBy(likes, func(l models.Like) bool { return l.UserID == userID })
}

func addLike(likes []models.Like, like models.Like) []models.Like {
	if HasLiked(likes, like.UserID) || lo.ContainsBy(likes, func(l models.Like) bool { return like.ID != 0 && l.ID == like.ID }) {
		return likes
	}
	out := make([]models.Like, 0, len(likes)+1)
	out = append(out, likes...)
	return append(out, like)
}

func removeLike(likes []models.Like, id int64, userID string) []models.Like {
	return lo.Reject(likes, func(l models.Like, _ int) bool {
		if id != 0 && l.ID == id {
			return true
		}
		return userID != "" && l.UserID == userID
	})
}

// InsertLike adds like to its post, keeping at most one like per user
func InsertLike(posts []models.Post, like models.Like) []models.Post {
	idx := indexOfPost(posts, like.PostID)
	if idx < 0 {
		return posts
	}
	post := posts[idx]
	likes := addLike(post.Likes, like)
	if len(likes) == len(post.Likes) {
		return posts
	}
	post.Likes = likes

	out := slices.Clone(posts)
	out[idx] = post
	return out
}

// DeleteLike removes a like matched by id, or by post and user when the
// event carries them
func DeleteLike(posts []models.Post, event models.DeleteLikeEvent) []models.Post {
	var out []models.Post
	for i, post := range posts {
		if event.PostID != 0 && post.ID != event.PostID {
			continue
		}
		userID := ""
		if event.PostID != 0 {
			userID = event.UserID
		}
		likes := removeLike(post.Likes, event.ID, userID)
		if len(likes) == len(post.Likes) {
			continue
		}
		if out == nil {
			out = slices.Clone(posts)
		}
		post.Likes = likes
		out[i] = post
	}
	if out == nil {
		return posts
	}
	return out
}

// MergePage folds a freshly fetched page into the visible list. The page is
// authoritative for order and content of the time range it covers: visible
// posts at or after its oldest post that it does not hold are gone server
// side and dropped. Older visible posts are kept in time order, unless the
// page is complete, in which case it replaces the list wholesale. Comments
// already loaded on a post survive when the page row carries none.
func MergePage(current, page []models.Post, complete bool) []models.Post {
	previous := lo.SliceToMap(current, func(p models.Post) (int64, models.Post) { return p.ID, p })

	out := make([]models.Post, 0, max(len(current), len(page)))
	seen := make(map[int64]struct{}, len(page))
	for _, post := range page {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		seen[post.ID] = struct{}{}
		if prev, ok := previous[post.ID]; ok && post.Comments == nil && prev.Comments != nil {
			post.Comments = prev.Comments
		}
		out = append(out, post)
	}
	if complete || len(out) == 0 {
		return out
	}

	oldest := lo.MinBy(out, func(a, b models.Post) bool { return a.CreatedAt.Before(b.CreatedAt) }).CreatedAt
	for _, post := range current {
		if _, ok := seen[post.ID]; ok || !post.CreatedAt.Before(oldest) {
			continue
		}
		seen[post.ID] = struct{}{}
		at := len(out)
		for i := range out {
			if out[i].CreatedAt.Before(post.CreatedAt) {
				at = i
				break
			}
		}
		out = slices.Insert(out, at, post)
	}

	return out
}
