package feishu

import (
	"strconv"
	"strings"

	larkdocx "github.com/larksuite/oapi-sdk-go/v3/service/docx/v1"
)

// Block types with dedicated handling. Every other type is read through its
// text body, if it has one.
const (
	BlockTypeImage = 27
	BlockTypeTable = 31
)

// TablePlaceholder stands in for a table block.
const TablePlaceholder = "\n[table content]\n"

type bodyKind string

const (
	kindText    bodyKind = "text"
	kindHeading bodyKind = "heading"
	kindOrdered bodyKind = "ordered"
	kindBullet  bodyKind = "bullet"
	kindQuote   bodyKind = "quote"
	kindTodo    bodyKind = "todo"
	kindCode    bodyKind = "code"
)

// textBody returns the first populated body in precedence order:
// text, heading1..9, ordered, bullet, quote, todo, code. Callouts and other
// containers carry no text of their own; their children follow them in the
// block list.
func textBody(b *larkdocx.Block) (bodyKind, int, *larkdocx.Text) {
	if b.Text != nil {
		return kindText, 0, b.Text
	}
	for i, h := range []*larkdocx.Text{b.Heading1, b.Heading2, b.Heading3, b.Heading4, b.Heading5,
		b.Heading6, b.Heading7, b.Heading8, b.Heading9} {
		if h != nil {
			return kindHeading, i + 1, h
		}
	}
	switch {
	case b.Ordered != nil:
		return kindOrdered, 0, b.Ordered
	case b.Bullet != nil:
		return kindBullet, 0, b.Bullet
	case b.Quote != nil:
		return kindQuote, 0, b.Quote
	case b.Todo != nil:
		return kindTodo, 0, b.Todo
	case b.Code != nil:
		return kindCode, 0, b.Code
	}
	return "", 0, nil
}

// joinElements concatenates the inline elements of a text body:
//   - a text run contributes its content verbatim
//   - a document mention renders as "[token]", or "[document]" without a token
//   - an inline equation renders as "$content$"
//
// User mentions, reminders and other inline kinds contribute nothing.
func joinElements(elements []*larkdocx.TextElement) string {
	var sb strings.Builder
	for _, el := range elements {
		switch {
		case el == nil:
		case el.TextRun != nil:
			sb.WriteString(value(el.TextRun.Content))
		case el.MentionDoc != nil:
			token := value(el.MentionDoc.Token)
			if token == "" {
				token = "document"
			}
			sb.WriteString("[" + token + "]")
		case el.Equation != nil:
			sb.WriteString("$" + value(el.Equation.Content) + "$")
		}
	}
	return sb.String()
}

func value[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

type stepKind int

const (
	stepSkip stepKind = iota
	stepText
	stepImage
)

// step is the interpretation of one block: a text node, an image to fetch,
// or nothing.
type step struct {
	kind  stepKind
	text  string
	token string
}

// interpret maps one block to a step given the ordered-list counter in
// effect before it, and returns the counter in effect after it. The counter
// only moves when a text step is emitted.
func interpret(counter int, b *larkdocx.Block) (step, int) {
	if b == nil {
		return step{kind: stepSkip}, counter
	}

	switch value(b.BlockType) {
	case BlockTypeImage:
		if b.Image == nil || value(b.Image.Token) == "" {
			return step{kind: stepSkip}, counter
		}
		return step{kind: stepImage, token: *b.Image.Token}, counter
	case BlockTypeTable:
		return step{kind: stepText, text: TablePlaceholder}, counter
	}

	kind, level, body := textBody(b)
	if body == nil || body.Elements == nil {
		return step{kind: stepSkip}, counter
	}

	text := joinElements(body.Elements)
	if strings.TrimSpace(text) == "" && kind != kindCode {
		return step{kind: stepSkip}, counter
	}

	var prefix string
	next := 0
	switch kind {
	case kindHeading:
		prefix = strings.Repeat("#", level) + " "
	case kindOrdered:
		next = counter + 1
		prefix = strconv.Itoa(next) + ". "
	case kindBullet:
		prefix = "- "
	case kindQuote:
		prefix = "> "
	case kindTodo:
		prefix = "[ ] "
		if body.Style != nil && value(body.Style.Done) {
			prefix = "[x] "
		}
	}

	return step{kind: stepText, text: prefix + text}, next
}

// interpretAll folds interpret over blocks in document order.
func interpretAll(blocks []*larkdocx.Block) []step {
	steps := make([]step, 0, len(blocks))
	counter := 0
	for _, b := range blocks {
		var s step
		s, counter = interpret(counter, b)
		if s.kind != stepSkip {
			steps = append(steps, s)
		}
	}
	return steps
}
