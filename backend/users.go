package backend

import (
	"context"
	"fmt"

	"bunnyup/forms"
	"bunnyup/models"
)

func (c *Client) GetUser(ctx context.Context, userID string) (models.User, error) {
	var row UserRow
	_, err := c.rest(ctx, tableUsers).From(tableUsers).
		Select("*", "", false).
		Eq("id", userID).
		Single().
		ExecuteTo(&row)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	return row.Model(), nil
}

// UpdateUser stores the profile form for userID and returns the saved row
func (c *Client) UpdateUser(ctx context.Context, userID string, form forms.ProfileForm) (models.User, error) {
	if err := form.Validate(); err != nil {
		return models.User{}, err
	}
	user := form.Apply(models.User{ID: userID})

	query := c.rest(ctx, tableUsers).From(tableUsers)
	query.Select("*", "", false)

	var row UserRow
	_, err := query.Update(map[string]any{
		"name":        user.Name,
		"phoneNumber": user.PhoneNumber,
		"image":       user.Image,
		"bio":         user.Bio,
		"address":     user.Address,
	}, "representation", "").
		Eq("id", userID).
		Single().
		ExecuteTo(&row)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return row.Model(), nil
}

// FetchNotifications returns the notifications sent to receiverID, newest
// first, with their senders
func (c *Client) FetchNotifications(ctx context.Context, receiverID string) ([]models.Notification, error) {
	var rows []NotificationRow
	_, err := c.rest(ctx, tableNotifications).From(tableNotifications).
		Select(selectNotification, "", false).
		Eq("receiverId", receiverID).
		Order("created_at", newestFirst).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}

	notifications := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, row.Model())
	}
	return notifications, nil
}

func (c *Client) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	query := c.rest(ctx, tableNotifications).From(tableNotifications)
	query.Select("*", "", false)

	var row NotificationRow
	_, err := query.Insert(map[string]any{
		"senderId":   n.SenderID,
		"receiverId": n.ReceiverID,
		"title":      n.Title,
		"data":       n.Data,
	}, false, "", "representation", "").Single().ExecuteTo(&row)
	if err != nil {
		return models.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return row.Model(), nil
}
