// Package forms holds the typed state of every input form. State only changes
// through the Reduce functions, which return a new value and never touch
// their input.
package forms

import (
	"fmt"
	"net/mail"
	"strings"

	"bunnyup/models"

	"github.com/samber/lo"
)

// ValidationError reports a missing or malformed field. It is raised before
// any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// Actions shared by the reducers
type (
	SetName        string
	SetEmail       string
	SetPassword    string
	SetBody        string
	SetFile        string
	SetText        string
	SetPhoneNumber string
	SetImage       string
	SetBio         string
	SetAddress     string
	ClearFile      struct{}
	Reset          struct{}
)

// EditPost loads an existing post into the post form
type EditPost struct {
	Post models.Post
}

// LoadProfile fills the profile form from the signed in user
type LoadProfile struct {
	User models.User
}

// PostForm is the create/edit post form. File is a local path to upload or
// an already uploaded URL. FileCleared is set once the media of an edited
// post has been removed.
type PostForm struct {
	ID          int64
	Body        string
	File        string
	FileCleared bool
}

func ReducePost(form PostForm, action any) PostForm {
	switch a := action.(type) {
	case SetBody:
		form.Body = string(a)
	case SetFile:
		form.File = string(a)
		form.FileCleared = false
	case ClearFile:
		form.File = ""
		form.FileCleared = true
	case EditPost:
		form = PostForm{ID: a.Post.ID, Body: a.Post.Body}
		if a.Post.File != nil {
			form.File = *a.Post.File
		}
	case Reset:
		form = PostForm{}
	}
	return form
}

func (f PostForm) Validate() error {
	if strings.TrimSpace(StripHTML(f.Body)) == "" {
		return &ValidationError{Field: "body", Message: "post content cannot be empty"}
	}
	return nil
}

// ProfileForm is the edit profile form
type ProfileForm struct {
	Name        string
	PhoneNumber string
	Image       string
	Bio         string
	Address     string
}

func ReduceProfile(form ProfileForm, action any) ProfileForm {
	switch a := action.(type) {
	case SetName:
		form.Name = string(a)
	case SetPhoneNumber:
		form.PhoneNumber = string(a)
	case SetImage:
		form.Image = string(a)
	case SetBio:
		form.Bio = string(a)
	case SetAddress:
		form.Address = string(a)
	case LoadProfile:
		form = ProfileForm{
			Name:        a.User.Name,
			PhoneNumber: a.User.PhoneNumber,
			Bio:         a.User.Bio,
			Address:     a.User.Address,
		}
		if a.User.Image != nil {
			form.Image = *a.User.Image
		}
	case Reset:
		form = ProfileForm{}
	}
	return form
}

func (f ProfileForm) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"name", f.Name},
		{"phoneNumber", f.PhoneNumber},
		{"address", f.Address},
	} {
		if err := required(field.name, field.value); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies the form onto user
func (f ProfileForm) Apply(user models.User) models.User {
	user.Name = strings.TrimSpace(f.Name)
	user.PhoneNumber = strings.TrimSpace(f.PhoneNumber)
	user.Bio = f.Bio
	user.Address = strings.TrimSpace(f.Address)
	if f.Image != "" {
		image := f.Image
		user.Image = &image
	} else {
		user.Image = nil
	}
	return user
}

// SignUpForm is the registration form
type SignUpForm struct {
	Name     string
	Email    string
	Password string
}

func ReduceSignUp(form SignUpForm, action any) SignUpForm {
	switch a := action.(type) {
	case SetName:
		form.Name = string(a)
	case SetEmail:
		form.Email = string(a)
	case SetPassword:
		form.Password = string(a)
	case Reset:
		form = SignUpForm{}
	}
	return form
}

func (f SignUpForm) Validate() error {
	if err := validateCredentials(f.Email, f.Password); err != nil {
		return err
	}
	return required("name", f.Name)
}

// Trimmed returns the form with surrounding whitespace removed, the way it
// is submitted
func (f SignUpForm) Trimmed() SignUpForm {
	return SignUpForm{
		Name:     strings.TrimSpace(f.Name),
		Email:    strings.TrimSpace(f.Email),
		Password: strings.TrimSpace(f.Password),
	}
}

// LoginForm is the sign in form
type LoginForm struct {
	Email    string
	Password string
}

func ReduceLogin(form LoginForm, action any) LoginForm {
	switch a := action.(type) {
	case SetEmail:
		form.Email = string(a)
	case SetPassword:
		form.Password = string(a)
	case Reset:
		form = LoginForm{}
	}
	return form
}

func (f LoginForm) Validate() error {
	return validateCredentials(f.Email, f.Password)
}

func (f LoginForm) Trimmed() LoginForm {
	return LoginForm{
		Email:    strings.TrimSpace(f.Email),
		Password: strings.TrimSpace(f.Password),
	}
}

func validateCredentials(email, password string) error {
	if err := required("email", email); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return required("password", password)
}

// CommentForm is the add comment input
type CommentForm struct {
	Text string
}

func ReduceComment(form CommentForm, action any) CommentForm {
	switch a := action.(type) {
	case SetText:
		form.Text = string(a)
	case Reset:
		form = CommentForm{}
	}
	return form
}

func (f CommentForm) Validate() error {
	return required("text", f.Text)
}

// Reduce applies actions in order with the given reducer
func Reduce[F any](form F, reducer func(F, any) F, actions ...any) F {
	return lo.Reduce(actions, func(f F, action any, _ int) F {
		return reducer(f, action)
	}, form)
}
