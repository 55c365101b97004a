// Package form holds the admin post editor: field state, slug derivation,
// validation and submission.
package form

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/service"
	"github.com/inkblog/internal/slug"
)

// ErrSaveFailed wraps any store failure during Submit.
var ErrSaveFailed = errors.New("failed to save the post, please try again")

const (
	MsgTitleRequired   = "Please enter a title"
	MsgSlugRequired    = "Please enter a URL slug"
	MsgSlugTaken       = "This URL slug is already in use"
	MsgSlugInvalid     = "URL slug may only contain a-z, 0-9 and -"
	MsgContentRequired = "Please enter the content"
	MsgImageInvalid    = "Please enter a valid image URL"
	MsgMetaTooLong     = "Meta description must be 160 characters or fewer"
)

// Writer is the part of the post service the form needs.
type Writer interface {
	CreatePost(ctx context.Context, input service.PostInput) (*db.Post, error)
	UpdatePost(ctx context.Context, id string, update service.PostUpdate) (*db.Post, error)
	IsSlugUnique(ctx context.Context, slug, excludeID string) bool
}

// Fields are the editable values. Tags is the raw comma separated input.
type Fields struct {
	Title           string `json:"title" validate:"required"`
	Slug            string `json:"slug" validate:"required,urlslug"`
	Content         string `json:"content" validate:"required"`
	Excerpt         string `json:"excerpt"`
	Category        string `json:"category"`
	Tags            string `json:"tags"`
	FeaturedImage   string `json:"featured_image" validate:"omitempty,uri"`
	MetaDescription string `json:"meta_description" validate:"omitempty,max=160"`
	Published       bool   `json:"published"`
}

// ValidationError carries field-keyed messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	// 手写的 slug 必须已经是规范形式
	_ = v.RegisterValidation("urlslug", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return slug.Generate(value) == value
	})
	return v
}

// PostForm edits one post. A nil existing post means a new draft.
type PostForm struct {
	writer   Writer
	existing *db.Post
	fields   Fields
	slugAuto bool
	authorID string
	errors   map[string]string
}

// NewPostForm creates a form, pre-filled from existing when editing.
// The slug follows the title only for new posts.
func NewPostForm(writer Writer, existing *db.Post) *PostForm {
	f := &PostForm{
		writer:   writer,
		existing: existing,
		slugAuto: existing == nil,
		errors:   map[string]string{},
	}
	if existing != nil {
		f.fields = Fields{
			Title:           existing.Title,
			Slug:            existing.Slug,
			Content:         existing.Content,
			Excerpt:         deref(existing.Excerpt),
			Category:        deref(existing.Category),
			Tags:            strings.Join(existing.TagList(), ", "),
			FeaturedImage:   deref(existing.FeaturedImage),
			MetaDescription: deref(existing.MetaDescription),
			Published:       existing.Published,
		}
	}
	return f
}

// Fields returns the current values.
func (f *PostForm) Fields() Fields { return f.fields }

// Errors returns the messages from the last validation.
func (f *PostForm) Errors() map[string]string {
	out := make(map[string]string, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// SlugAuto reports whether the slug still follows the title.
func (f *PostForm) SlugAuto() bool { return f.slugAuto }

// Editing reports whether the form updates an existing post.
func (f *PostForm) Editing() bool { return f.existing != nil }

// SetTitle updates the title and, while auto-derivation is on, the slug.
func (f *PostForm) SetTitle(title string) {
	f.fields.Title = title
	if f.slugAuto && title != "" {
		f.fields.Slug = slug.Generate(title)
	}
}

// SetSlug is a manual slug edit; it turns auto-derivation off.
func (f *PostForm) SetSlug(value string) {
	f.slugAuto = false
	f.fields.Slug = value
}

// RegenerateSlug derives the slug from the title again and turns
// auto-derivation back on. It does nothing while the title is empty.
func (f *PostForm) RegenerateSlug() {
	if f.fields.Title == "" {
		return
	}
	f.fields.Slug = slug.Generate(f.fields.Title)
	f.slugAuto = true
}

func (f *PostForm) SetContent(v string)         { f.fields.Content = v }
func (f *PostForm) SetExcerpt(v string)         { f.fields.Excerpt = v }
func (f *PostForm) SetCategory(v string)        { f.fields.Category = v }
func (f *PostForm) SetTags(v string)            { f.fields.Tags = v }
func (f *PostForm) SetFeaturedImage(v string)   { f.fields.FeaturedImage = v }
func (f *PostForm) SetMetaDescription(v string) { f.fields.MetaDescription = v }
func (f *PostForm) SetPublished(v bool)         { f.fields.Published = v }

// SetAuthorID records the author for a new post; edits keep the original.
func (f *PostForm) SetAuthorID(id string) { f.authorID = id }

// Fill applies a whole set of values the way a user typing them would:
// the title first, then a manual slug edit only when a slug is given.
func (f *PostForm) Fill(values Fields) {
	f.SetTitle(values.Title)
	if strings.TrimSpace(values.Slug) != "" {
		f.SetSlug(values.Slug)
	}
	f.SetContent(values.Content)
	f.SetExcerpt(values.Excerpt)
	f.SetCategory(values.Category)
	f.SetTags(values.Tags)
	f.SetFeaturedImage(values.FeaturedImage)
	f.SetMetaDescription(values.MetaDescription)
	f.SetPublished(values.Published)
}

// Validate checks the fields and returns a *ValidationError when any rule
// fails. The slug uniqueness lookup only runs once every local rule passes.
func (f *PostForm) Validate(ctx context.Context) error {
	trimmed := f.trimmed()
	problems := map[string]string{}

	if err := validate.Struct(trimmed); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems[fe.Field()] = friendlyMessage(fe)
		}
	}

	if len(problems) == 0 {
		excludeID := ""
		if f.existing != nil {
			excludeID = f.existing.ID
		}
		if !f.writer.IsSlugUnique(ctx, trimmed.Slug, excludeID) {
			problems["slug"] = MsgSlugTaken
		}
	}

	f.errors = problems
	if len(problems) > 0 {
		return &ValidationError{Fields: f.Errors()}
	}
	return nil
}

// Submit validates and then creates or updates the post. Invalid input
// never reaches the store. Store failures wrap ErrSaveFailed and leave the
// form as it was so the user can retry.
func (f *PostForm) Submit(ctx context.Context) (*db.Post, error) {
	if err := f.Validate(ctx); err != nil {
		return nil, err
	}

	v := f.trimmed()
	tags := ParseTags(v.Tags)

	var (
		saved *db.Post
		err   error
	)
	if f.existing == nil {
		saved, err = f.writer.CreatePost(ctx, service.PostInput{
			Title:           v.Title,
			Slug:            v.Slug,
			Content:         v.Content,
			Excerpt:         &v.Excerpt,
			AuthorID:        &f.authorID,
			Category:        &v.Category,
			Tags:            tags,
			FeaturedImage:   &v.FeaturedImage,
			MetaDescription: &v.MetaDescription,
			Published:       v.Published,
		})
	} else {
		saved, err = f.writer.UpdatePost(ctx, f.existing.ID, service.PostUpdate{
			Title:           &v.Title,
			Slug:            &v.Slug,
			Content:         &v.Content,
			Excerpt:         &v.Excerpt,
			Category:        &v.Category,
			Tags:            &tags,
			FeaturedImage:   &v.FeaturedImage,
			MetaDescription: &v.MetaDescription,
			Published:       &v.Published,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	f.existing = saved
	f.slugAuto = false
	return saved, nil
}

// ParseTags splits comma separated input, trimming entries and dropping
// empty ones. Blank input yields nil.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (f *PostForm) trimmed() Fields {
	v := f.fields
	v.Title = strings.TrimSpace(v.Title)
	v.Slug = strings.TrimSpace(v.Slug)
	v.Content = strings.TrimSpace(v.Content)
	v.Excerpt = strings.TrimSpace(v.Excerpt)
	v.Category = strings.TrimSpace(v.Category)
	v.FeaturedImage = strings.TrimSpace(v.FeaturedImage)
	v.MetaDescription = strings.TrimSpace(v.MetaDescription)
	return v
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "title":
		return MsgTitleRequired
	case "slug":
		if fe.Tag() == "urlslug" {
			return MsgSlugInvalid
		}
		return MsgSlugRequired
	case "content":
		return MsgContentRequired
	case "featured_image":
		return MsgImageInvalid
	case "meta_description":
		return MsgMetaTooLong
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
