package assistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Имена функций, доступных модели
const (
	FuncCreate = "create_qr_code"
	FuncList   = "list_qr_codes"
	FuncDelete = "delete_qr_code"
	FuncSearch = "search_qr_codes"
	FuncUpdate = "update_qr_code"
)

const systemPrompt = `You are a QR code assistant that helps users manage QR codes.
You can create, list, search, update and delete QR codes through function calls.
Always use the provided functions for operations. If the user only asks a question, answer in plain text.`

func tools() []openai.Tool {
	str := func(desc string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: desc}
	}
	id := jsonschema.Definition{Type: jsonschema.Integer, Description: "ID of the QR code"}
	active := jsonschema.Definition{Type: jsonschema.Boolean, Description: "Whether the QR code accepts redirects"}

	defs := []openai.FunctionDefinition{
		{
			Name:        FuncCreate,
			Description: "Create a new QR code",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"url":         str("The URL to encode in the QR code"),
					"is_dynamic":  {Type: jsonschema.Boolean, Description: "Whether to create a dynamic QR code with a short link"},
					"description": str("Optional description for the QR code"),
					"fill_color":  str("Color for QR code fill (e.g. 'black' or '#000000')"),
					"back_color":  str("Color for QR code background (e.g. 'white' or '#FFFFFF')"),
				},
				Required: []string{"url"},
			},
		},
		{
			Name:        FuncList,
			Description: "List all QR codes, newest first",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{},
			},
		},
		{
			Name:        FuncDelete,
			Description: "Delete a QR code by ID",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{"qr_id": id},
				Required:   []string{"qr_id"},
			},
		},
		{
			Name:        FuncSearch,
			Description: "Search QR codes by URL or description substring, status or creation date",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"url":           str("Part of the target URL"),
					"description":   str("Part of the description"),
					"is_active":     active,
					"created_after": str("Only codes created on or after this date (YYYY-MM-DD or RFC 3339)"),
					"limit":         {Type: jsonschema.Integer, Description: "Maximum number of results"},
				},
			},
		},
		{
			Name:        FuncUpdate,
			Description: "Update an existing QR code by ID; omitted fields stay unchanged",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"qr_id":        id,
					"url":          str("New target URL"),
					"description":  str("New description"),
					"fill_color":   str("New fill color"),
					"back_color":   str("New background color"),
					"is_active":    active,
					"redirect_url": str("Override target for dynamic codes; empty string clears it"),
				},
				Required: []string{"qr_id"},
			},
		},
	}

	result := make([]openai.Tool, 0, len(defs))
	for i := range defs {
		result = append(result, openai.Tool{Type: openai.ToolTypeFunction, Function: &defs[i]})
	}
	return result
}

type createArgs struct {
	URL         string `json:"url"`
	IsDynamic   bool   `json:"is_dynamic"`
	Description string `json:"description"`
	FillColor   string `json:"fill_color"`
	BackColor   string `json:"back_color"`
}

type deleteArgs struct {
	ID qrID `json:"qr_id"`
}

type searchArgs struct {
	URL          string `json:"url"`
	Description  string `json:"description"`
	IsActive     *bool  `json:"is_active"`
	CreatedAfter string `json:"created_after"`
	Limit        int    `json:"limit"`
}

type updateArgs struct {
	ID          qrID    `json:"qr_id"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
	FillColor   *string `json:"fill_color"`
	BackColor   *string `json:"back_color"`
	IsActive    *bool   `json:"is_active"`
	RedirectURL *string `json:"redirect_url"`
}

// qrID принимает как число, так и строку с числом
type qrID uint

func (id *qrID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil || n == 0 {
		return fmt.Errorf("qr_id must be a positive integer, got %s", data)
	}
	*id = qrID(n)
	return nil
}

// decodeArgs разбирает аргументы функции; пустая строка равна {}
func decodeArgs(raw string, dst any) error {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return &argumentError{raw: raw, err: err}
	}
	return nil
}

// argumentError: модель прислала некорректный JSON аргументов
type argumentError struct {
	raw string
	err error
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("invalid function arguments %q: %v", e.raw, e.err)
}

func (e *argumentError) Unwrap() error { return e.err }
