package ruleengine

// BackendConfig is the capability profile of a query backend: the tokens it
// emits, how it quotes and escapes literals and which rewrites it applies.
type BackendConfig struct {
	AndToken        string `json:"and_token"`
	OrToken         string `json:"or_token"`
	NotToken        string `json:"not_token"`
	TokenSeparator  string `json:"token_separator"`
	GroupExpression string `json:"group_expression"`

	// EqToken separates a field name from its value.
	EqToken string `json:"eq_token"`
	// AnyFieldToken stands in for the field name of keyword matches.
	AnyFieldToken string `json:"any_field_token"`

	StrQuote       string `json:"str_quote"`
	EscapeChar     string `json:"escape_char"`
	WildcardMulti  string `json:"wildcard_multi"`
	WildcardSingle string `json:"wildcard_single"`
	// QuotedEscaped lists characters escaped inside quoted strings.
	QuotedEscaped string `json:"quoted_escaped"`
	// UnquotedEscaped lists characters escaped in strings that carry
	// wildcards and therefore cannot be quoted.
	UnquotedEscaped string `json:"unquoted_escaped"`
	FilterChars     string `json:"filter_chars"`

	NullExpression   string               `json:"null_expression"`
	ExistsExpression string               `json:"exists_expression"`
	ReExpression     string               `json:"re_expression"`
	ReEscaped        []string             `json:"re_escaped"`
	CIDRExpression   string               `json:"cidr_expression"`
	CompareRanges    map[CompareOp]string `json:"compare_ranges"`
	InExpression     string               `json:"in_expression"`

	SupportsRegex bool `json:"supports_regex"`
	SupportsCIDR  bool `json:"supports_cidr"`

	ConvertOrAsIn     bool `json:"convert_or_as_in"`
	ConvertAndAsIn    bool `json:"convert_and_as_in"`
	ApplyDeMorgans    bool `json:"apply_de_morgans"`
	AppendExistsGuard bool `json:"append_exists_guard"`

	EnableFieldMappings bool `json:"enable_field_mappings"`
	// CollectErrors records per-rule failures on the result instead of
	// returning them.
	CollectErrors bool `json:"collect_errors"`
}

// DefaultBackendConfig renders Lucene query_string syntax.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		AndToken:        "AND",
		OrToken:         "OR",
		NotToken:        "NOT",
		TokenSeparator:  " ",
		GroupExpression: "(%s)",
		EqToken:         ": ",
		AnyFieldToken:   "*",
		StrQuote:        `"`,
		EscapeChar:      `\`,
		WildcardMulti:   "*",
		WildcardSingle:  "?",
		QuotedEscaped:   `"`,
		UnquotedEscaped: `+-=&|><!(){}[]^"~*?:/ `,

		NullExpression:   "NOT _exists_: %s",
		ExistsExpression: "_exists_: %s",
		ReExpression:     "%s: /%s/",
		ReEscaped:        []string{"/"},
		CIDRExpression:   `%s: "%s"`,

		CompareRanges: map[CompareOp]string{
			CompareGT:  "{%s TO *]",
			CompareGTE: "[%s TO *]",
			CompareLT:  "[* TO %s}",
			CompareLTE: "[* TO %s]",
		},

		InExpression:        "%s: (%s)",
		SupportsRegex:       true,
		SupportsCIDR:        true,
		ConvertOrAsIn:       true,
		ConvertAndAsIn:      false,
		ApplyDeMorgans:      false,
		AppendExistsGuard:   false,
		EnableFieldMappings: true,
		CollectErrors:       false,
	}
}

// NewBackendConfig returns the default profile.
func NewBackendConfig() BackendConfig {
	return DefaultBackendConfig()
}

// OpenSearchConfig is the profile used for security-analytics detectors:
// negated leaves carry an existence guard and batch failures are collected.
func OpenSearchConfig() BackendConfig {
	return DefaultBackendConfig().
		WithExistsGuard(true).
		WithCollectErrors(true)
}

// StrictConfig disables every rewrite and renders the tree as written.
func StrictConfig() BackendConfig {
	return DefaultBackendConfig().
		WithOrAsIn(false).
		WithAndAsIn(false).
		WithDeMorgans(false).
		WithExistsGuard(false)
}

func (c BackendConfig) WithOrAsIn(enable bool) BackendConfig {
	c.ConvertOrAsIn = enable
	return c
}

func (c BackendConfig) WithAndAsIn(enable bool) BackendConfig {
	c.ConvertAndAsIn = enable
	return c
}

func (c BackendConfig) WithDeMorgans(enable bool) BackendConfig {
	c.ApplyDeMorgans = enable
	return c
}

func (c BackendConfig) WithExistsGuard(enable bool) BackendConfig {
	c.AppendExistsGuard = enable
	return c
}

func (c BackendConfig) WithFieldMappings(enable bool) BackendConfig {
	c.EnableFieldMappings = enable
	return c
}

func (c BackendConfig) WithCollectErrors(enable bool) BackendConfig {
	c.CollectErrors = enable
	return c
}

func (c BackendConfig) WithRegex(supported bool) BackendConfig {
	c.SupportsRegex = supported
	return c
}

func (c BackendConfig) WithCIDR(supported bool) BackendConfig {
	c.SupportsCIDR = supported
	return c
}

func (c BackendConfig) WithTokens(and, or, not string) BackendConfig {
	c.AndToken, c.OrToken, c.NotToken = and, or, not
	return c
}
