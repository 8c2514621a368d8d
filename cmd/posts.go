package cmd

import (
	"fmt"
	"os"
	"strconv"

	"bunnyup/backend"
	"bunnyup/feed"
	"bunnyup/forms"
	"bunnyup/realtime"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// argID parses the n-th positional argument as an id
func argID(ctx *cli.Context, n int, name string) (int64, error) {
	raw := ctx.Args().Get(n)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// loadDetails loads the post named by the first argument with its comments
func (c *client) loadDetails(ctx *cli.Context) (*feed.Details, error) {
	postID, err := argID(ctx, 0, "post id")
	if err != nil {
		return nil, err
	}

	details := feed.NewDetails(postID, c.backend, c.resolver)
	if _, err := details.Load(ctx.Context); err != nil {
		details.Close()
		if backend.IsNotFound(err) {
			return nil, cli.Exit(fmt.Sprintf("Post %d does not exist.", postID), 1)
		}
		return nil, fail(err, "Could not load post.")
	}
	return details, nil
}

func postCmd() *cli.Command {
	return &cli.Command{
		Name:      "post",
		Usage:     "Create or edit a post",
		ArgsUsage: "[post id to edit]",
		Description: `Creates a post, or edits one when a post id is given.

--file takes a local image, which is uploaded to storage first, or the URL of
an image that is already uploaded.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "body",
				Aliases: []string{"b"},
				Usage:   "Post content, asked for when not set",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Image to attach",
			},
			&cli.BoolFlag{
				Name:  "clear-file",
				Usage: "Remove the attached image when editing",
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			form := forms.PostForm{}
			if ctx.Args().Present() {
				details, err := c.loadDetails(ctx)
				if err != nil {
					return err
				}
				post, _ := details.Post(details.PostID())
				details.Close()
				if post.UserID != user.ID {
					return cli.Exit("You can only edit your own posts.", 1)
				}
				form = forms.ReducePost(form, forms.EditPost{Post: post})
			}

			var actions []any
			if ctx.Bool("clear-file") {
				actions = append(actions, forms.ClearFile{})
			}
			if file := ctx.String("file"); file != "" {
				actions = append(actions, forms.SetFile(file))
			}
			body := ctx.String("body")
			if body == "" && form.Body == "" {
				if body, err = ask(ctx, "body", "What's on your mind?", false); err != nil {
					return err
				}
			}
			if body != "" {
				actions = append(actions, forms.SetBody(body))
			}
			form = forms.Reduce(form, forms.ReducePost, actions...)

			post, err := c.backend.UpsertPost(ctx.Context, user.ID, form)
			if err != nil {
				return fail(err, "Could not save post.")
			}
			return printJSON(post)
		},
	}
}

func showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a post with its comments",
		ArgsUsage: "<post id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep printing the post as comments and likes arrive",
			},
		},
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			details, err := c.loadDetails(ctx)
			if err != nil {
				return err
			}
			defer details.Close()

			post, _ := details.Post(details.PostID())
			if err := printJSON(post); err != nil {
				return err
			}
			if !ctx.Bool("follow") {
				return nil
			}

			key, snapshots := details.Subscribe()
			defer details.Unsubscribe(key)

			filter := "postId=eq." + strconv.FormatInt(details.PostID(), 10)
			runFeed(ctx.Context, details.Feed, c.channel(fmt.Sprintf("post:%d", details.PostID()),
				realtime.Binding{Event: "*", Schema: "public", Table: "posts", Filter: "id=eq." + strconv.FormatInt(details.PostID(), 10)},
				realtime.Binding{Event: "*", Schema: "public", Table: "comments", Filter: filter},
				realtime.Binding{Event: "*", Schema: "public", Table: "post_likes", Filter: filter},
			))

			for {
				select {
				case <-ctx.Context.Done():
					return nil
				case posts, ok := <-snapshots:
					if !ok {
						return nil
					}
					if len(posts) == 0 {
						fmt.Fprintln(os.Stderr, "The post was deleted")
						return nil
					}
					if err := printJSON(posts[0]); err != nil {
						return err
					}
				}
			}
		},
	}
}

func deletePostCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete-post",
		Usage:     "Delete one of your posts",
		ArgsUsage: "<post id>",
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			details, err := c.loadDetails(ctx)
			if err != nil {
				return err
			}
			defer details.Close()

			post, _ := details.Post(details.PostID())
			if post.UserID != user.ID {
				return cli.Exit("You can only delete your own posts.", 1)
			}

			if err := details.DeletePost(ctx.Context); err != nil {
				return fail(err, "Could not delete post.")
			}

			if post.File != nil && c.storage != nil {
				if err := c.storage.Remove(ctx.Context, *post.File); err != nil {
					log.WithFields(log.Fields{
						"file":  *post.File,
						"error": err,
					}).Warn("Could not remove post media")
				}
			}

			fmt.Printf("Deleted post %d\n", post.ID)
			return nil
		},
	}
}

func commentCmd() *cli.Command {
	return &cli.Command{
		Name:      "comment",
		Usage:     "Comment on a post",
		ArgsUsage: "<post id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "text",
				Aliases: []string{"t"},
				Usage:   "Comment text, asked for when not set",
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			details, err := c.loadDetails(ctx)
			if err != nil {
				return err
			}
			defer details.Close()

			text, err := ask(ctx, "text", "Comment:", false)
			if err != nil {
				return err
			}
			form := forms.ReduceComment(forms.CommentForm{}, forms.SetText(text))

			comment, err := details.AddComment(ctx.Context, user, form)
			if err != nil {
				return fail(err, "Could not add comment.")
			}
			return printJSON(comment)
		},
	}
}

func deleteCommentCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete-comment",
		Usage:     "Delete one of your comments",
		ArgsUsage: "<post id> <comment id>",
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.user(); err != nil {
				return err
			}
			commentID, err := argID(ctx, 1, "comment id")
			if err != nil {
				return err
			}

			details, err := c.loadDetails(ctx)
			if err != nil {
				return err
			}
			defer details.Close()

			if err := details.DeleteComment(ctx.Context, commentID); err != nil {
				return fail(err, "Could not delete comment.")
			}

			fmt.Printf("Deleted comment %d\n", commentID)
			return nil
		},
	}
}

func likeCmd() *cli.Command {
	return &cli.Command{
		Name:      "like",
		Usage:     "Like a post, or unlike it when you already do",
		ArgsUsage: "<post id>",
		Action: func(ctx *cli.Context) error {
			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			details, err := c.loadDetails(ctx)
			if err != nil {
				return err
			}
			defer details.Close()

			likes, err := details.ToggleLike(ctx.Context, details.PostID(), user.ID)
			if err != nil {
				return fail(err, "Could not update like.")
			}

			if feed.HasLiked(likes, user.ID) {
				fmt.Printf("Liked post %d (%d likes)\n", details.PostID(), len(likes))
			} else {
				fmt.Printf("Unliked post %d (%d likes)\n", details.PostID(), len(likes))
			}
			return nil
		},
	}
}
