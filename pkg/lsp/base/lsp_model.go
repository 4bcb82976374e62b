package base

import (
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// LSP method names used by the connection.
const (
	MethodInitialize                    = protocol.MethodInitialize
	MethodInitialized                   = protocol.MethodInitialized
	MethodShutdown                      = protocol.MethodShutdown
	MethodExit                          = protocol.MethodExit
	MethodTextDocumentDidOpen           = protocol.MethodTextDocumentDidOpen
	MethodTextDocumentDidChange         = protocol.MethodTextDocumentDidChange
	MethodTextDocumentDidSave           = protocol.MethodTextDocumentDidSave
	MethodTextDocumentDidClose          = protocol.MethodTextDocumentDidClose
	MethodTextDocumentCompletion        = protocol.MethodTextDocumentCompletion
	MethodCompletionItemResolve         = protocol.MethodCompletionItemResolve
	MethodWorkspaceDidChangeConfig      = protocol.MethodWorkspaceDidChangeConfiguration
	MethodWorkspaceConfiguration        = protocol.ServerWorkspaceConfiguration
	MethodClientRegisterCapability      = protocol.ServerClientRegisterCapability
	MethodClientUnregisterCapability    = protocol.ServerClientUnregisterCapability
	MethodWindowLogMessage              = protocol.ServerWindowLogMessage
	MethodWindowShowMessage             = protocol.ServerWindowShowMessage
	MethodWindowWorkDoneProgressCreate  = protocol.ServerWindowWorkDoneProgressCreate
	MethodTextDocumentPublishDiagnostic = protocol.ServerTextDocumentPublishDiagnostics
	MethodProgress                      = protocol.MethodProgress
)

type InitializeParams struct {
	ProcessID             *int               `json:"processId"`
	RootURI               *string            `json:"rootUri"`
	InitializationOptions interface{}        `json:"initializationOptions"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

type TextDocumentClientCapabilities struct {
	Synchronization SynchronizationClientCapabilities `json:"synchronization"`
	Completion      CompletionClientCapabilities      `json:"completion"`
	Hover           HoverClientCapabilities           `json:"hover"`
}

type SynchronizationClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	WillSave            bool `json:"willSave"`
	WillSaveWaitUntil   bool `json:"willSaveWaitUntil"`
	DidSave             bool `json:"didSave"`
}

type CompletionClientCapabilities struct {
	DynamicRegistration bool                                 `json:"dynamicRegistration"`
	CompletionItem      CompletionItemClientCapabilities     `json:"completionItem"`
	CompletionItemKind  CompletionItemKindClientCapabilities `json:"completionItemKind"`
	ContextSupport      bool                                 `json:"contextSupport"`
}

type CompletionItemClientCapabilities struct {
	SnippetSupport          bool                `json:"snippetSupport"`
	DocumentationFormat     []string            `json:"documentationFormat,omitempty"`
	DeprecatedSupport       bool                `json:"deprecatedSupport"`
	InsertReplaceSupport    bool                `json:"insertReplaceSupport"`
	ResolveSupport          *ResolveSupportList `json:"resolveSupport,omitempty"`
	LabelDetailsSupport     bool                `json:"labelDetailsSupport"`
	CommitCharactersSupport bool                `json:"commitCharactersSupport"`
}

type ResolveSupportList struct {
	Properties []string `json:"properties"`
}

type CompletionItemKindClientCapabilities struct {
	ValueSet []int `json:"valueSet,omitempty"`
}

type HoverClientCapabilities struct {
	DynamicRegistration bool     `json:"dynamicRegistration"`
	ContentFormat       []string `json:"contentFormat,omitempty"`
}

type WorkspaceClientCapabilities struct {
	ApplyEdit              bool                                     `json:"applyEdit"`
	DidChangeConfiguration DidChangeConfigurationClientCapabilities `json:"didChangeConfiguration"`
	Configuration          bool                                     `json:"configuration"`
	WorkspaceFolders       bool                                     `json:"workspaceFolders"`
}

type DidChangeConfigurationClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// CompletionItem is the subset of an LSP completion item the completer consumes.
// Raw keeps the decoded server payload so it can be sent back for resolution.
type CompletionItem struct {
	Label         string                 `json:"label"`
	Kind          int                    `json:"kind,omitempty"`
	Detail        string                 `json:"detail,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	InsertText    string                 `json:"insertText,omitempty"`
	FilterText    string                 `json:"filterText,omitempty"`
	SortText      string                 `json:"sortText,omitempty"`
	TextEdit      *TextEdit              `json:"textEdit,omitempty"`
	Raw           map[string]interface{} `json:"-"`
}

type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

func (r *Range) Contains(pos Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character > r.End.Character {
		return false
	}
	return true
}

func MapToInitializeResult(data map[string]interface{}) (*InitializeResult, error) {
	capabilities, ok := data["capabilities"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid capabilities format")
	}

	var serverInfo *ServerInfo
	if serverInfoData, ok := data["serverInfo"].(map[string]interface{}); ok {
		name, _ := serverInfoData["name"].(string)
		version, _ := serverInfoData["version"].(string)
		serverInfo = &ServerInfo{Name: name, Version: version}
	}

	return &InitializeResult{
		Capabilities: ServerCapabilities(capabilities).Clone(),
		ServerInfo:   serverInfo,
	}, nil
}

// MapToCompletionList accepts the three shapes a completion response may take:
// null, CompletionItem[] or CompletionList.
func MapToCompletionList(data interface{}) (*CompletionList, error) {
	switch v := data.(type) {
	case nil:
		return &CompletionList{}, nil
	case []interface{}:
		items, err := mapToCompletionItems(v)
		if err != nil {
			return nil, err
		}
		return &CompletionList{Items: items}, nil
	case map[string]interface{}:
		incomplete, _ := v["isIncomplete"].(bool)
		rawItems, ok := v["items"].([]interface{})
		if !ok && v["items"] != nil {
			return nil, fmt.Errorf("invalid completion items format: %T", v["items"])
		}
		items, err := mapToCompletionItems(rawItems)
		if err != nil {
			return nil, err
		}
		return &CompletionList{IsIncomplete: incomplete, Items: items}, nil
	default:
		return nil, fmt.Errorf("unexpected completion result type: %T", data)
	}
}

func mapToCompletionItems(data []interface{}) ([]CompletionItem, error) {
	items := make([]CompletionItem, 0, len(data))
	for _, raw := range data {
		itemMap, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid completion item format: %T", raw)
		}
		item, err := MapToCompletionItem(itemMap)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func MapToCompletionItem(data map[string]interface{}) (*CompletionItem, error) {
	label, ok := data["label"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid label format")
	}

	item := &CompletionItem{
		Label: label,
		Raw:   data,
	}
	if kind, ok := data["kind"].(float64); ok {
		item.Kind = int(kind)
	}
	item.Detail, _ = data["detail"].(string)
	item.InsertText, _ = data["insertText"].(string)
	item.FilterText, _ = data["filterText"].(string)
	item.SortText, _ = data["sortText"].(string)

	// documentation is either a plain string or MarkupContent
	switch doc := data["documentation"].(type) {
	case string:
		item.Documentation = doc
	case map[string]interface{}:
		item.Documentation, _ = doc["value"].(string)
	}

	if editData, ok := data["textEdit"].(map[string]interface{}); ok {
		edit, err := mapToTextEdit(editData)
		if err != nil {
			return nil, fmt.Errorf("invalid textEdit for %q: %w", label, err)
		}
		item.TextEdit = edit
	}

	return item, nil
}

// mapToTextEdit handles both TextEdit and InsertReplaceEdit; for the latter the
// insert range is used since it never extends past the cursor.
func mapToTextEdit(data map[string]interface{}) (*TextEdit, error) {
	newText, _ := data["newText"].(string)

	rangeData, ok := data["range"].(map[string]interface{})
	if !ok {
		rangeData, ok = data["insert"].(map[string]interface{})
	}
	if !ok {
		return nil, fmt.Errorf("missing range")
	}

	r, err := mapToRange(rangeData)
	if err != nil {
		return nil, err
	}
	return &TextEdit{Range: *r, NewText: newText}, nil
}

func mapToRange(data map[string]interface{}) (*Range, error) {
	startData, ok := data["start"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid start position format")
	}
	endData, ok := data["end"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid end position format")
	}

	start, err := mapToPosition(startData)
	if err != nil {
		return nil, err
	}
	end, err := mapToPosition(endData)
	if err != nil {
		return nil, err
	}
	return &Range{Start: *start, End: *end}, nil
}

func mapToPosition(data map[string]interface{}) (*Position, error) {
	line, ok := data["line"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid line format")
	}
	character, ok := data["character"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid character format")
	}
	return &Position{Line: int(line), Character: int(character)}, nil
}
