package cmd

import (
	"errors"
	"fmt"
	"os"

	"bunnyup/forms"
	"bunnyup/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func profileCmd() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Print or edit your profile",
		Description: `Prints your profile. Any of the flags edits it instead.

Name, phone number and address are required. --image takes a local picture,
which is uploaded to storage first, or a URL.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Display name"},
			&cli.StringFlag{Name: "phone", Usage: "Phone number"},
			&cli.StringFlag{Name: "address", Usage: "Address"},
			&cli.StringFlag{Name: "bio", Usage: "Short bio"},
			&cli.StringFlag{Name: "image", Usage: "Profile picture"},
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

			var actions []any
			if ctx.IsSet("name") {
				actions = append(actions, forms.SetName(ctx.String("name")))
			}
			if ctx.IsSet("phone") {
				actions = append(actions, forms.SetPhoneNumber(ctx.String("phone")))
			}
			if ctx.IsSet("address") {
				actions = append(actions, forms.SetAddress(ctx.String("address")))
			}
			if ctx.IsSet("bio") {
				actions = append(actions, forms.SetBio(ctx.String("bio")))
			}
			if ctx.IsSet("image") {
				image, err := c.upload(ctx, profileMediaFolder, ctx.String("image"))
				if err != nil {
					return fail(err, "Could not upload profile picture.")
				}
				actions = append(actions, forms.SetImage(image))
			}
			if len(actions) == 0 {
				return printJSON(user)
			}

			form := forms.Reduce(forms.ProfileForm{}, forms.ReduceProfile,
				append([]any{forms.LoadProfile{User: user}}, actions...)...)

			state, err := c.session.SetProfile(ctx.Context, form)
			if err != nil {
				return fail(err, "Could not update profile.")
			}
			c.resolver.Forget(user.ID)
			return printJSON(state.User)
		},
	}
}

func notificationsCmd() *cli.Command {
	return &cli.Command{
		Name:  "notifications",
		Usage: "Print your notifications",
		Description: `Prints your notifications, newest first, as a JSON array.

With --follow new notifications are printed as JSON lines as they arrive.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "follow",
				Aliases: []string{"f"},
				Usage:   "Keep printing new notifications",
			},
		},
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			user, err := c.user()
			if err != nil {
				return err
			}

			notifications, err := c.backend.FetchNotifications(ctx.Context, user.ID)
			if err != nil {
				return fail(err, "Could not load notifications.")
			}
			if err := printJSON(notifications); err != nil {
				return err
			}
			if !ctx.Bool("follow") {
				return nil
			}

			events := make(chan interface{}, 16)
			channel := c.notificationChannel(user.ID)
			go func() {
				if err := channel.Run(ctx.Context, events); err != nil {
					log.WithField("error", err).Error("Notification subscription stopped")
				}
			}()

			for {
				select {
				case <-ctx.Context.Done():
					return nil
				case event := <-events:
					created, ok := event.(models.CreateNotificationEvent)
					if !ok {
						continue
					}
					n := created.Notification
					if n.Sender == nil {
						if sender, err := c.resolver.Resolve(ctx.Context, n.SenderID); err == nil {
							n.Sender = &sender
						}
					}
					if err := printJSON(n); err != nil {
						return err
					}
				}
			}
		},
	}
}

func downloadCmd() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download post or profile media",
		ArgsUsage: "<url or key> <local path>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return errors.New("expected a media URL and a local path")
			}

			c, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if c.storage == nil {
				return errors.New("storage is not configured")
			}
			if err := c.storage.Download(ctx.Context, ctx.Args().Get(0), ctx.Args().Get(1)); err != nil {
				return fail(err, "Could not download media.")
			}

			fmt.Printf("Saved %s\n", ctx.Args().Get(1))
			return nil
		},
	}
}
