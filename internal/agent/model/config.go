package model

// ================ Config ================

type EngineConfig struct {
	MaxIterations     int `envconfig:"ENGINE_MAX_ITERATIONS" default:"3"`
	CapabilityTimeout int `envconfig:"ENGINE_CAPABILITY_TIMEOUT" default:"15"` // seconds
	PolicyTopK        int `envconfig:"ENGINE_POLICY_TOP_K" default:"3"`
}

type ReasonModelConfig struct {
	Model       string  `envconfig:"REASON_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"REASON_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"REASON_TEMPERATURE" default:"0.2"`
}

type PromptConfig struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Acme Outfitters"`
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"online retail store"`
}

type ConversationConfig struct {
	TTL      string `envconfig:"CONVERSATION_TTL" default:"24h"`
	MaxTurns int    `envconfig:"CONVERSATION_MAX_TURNS" default:"10"`
}

type OrderIDConfig struct {
	// Canonical prefix for order identifiers. Bare numeric ids from user
	// messages are mapped onto this prefix before lookup.
	Prefix string `envconfig:"ORDER_ID_PREFIX" default:"ORD-"`
}

type StoreConfig struct {
	SQLitePath string `envconfig:"SQLITE_PATH" default:"caredesk.db"`
	SeedOrders bool   `envconfig:"SEED_ORDERS" default:"true"`
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}
