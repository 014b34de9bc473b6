package db

// SchemaSQL creates the tables backing the sales agent: stored media buys
// and packages for the protocol layer, plus contexts and workflow steps for
// pending human-approval work.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS media_buys (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    media_buy_id TEXT NOT NULL UNIQUE,
    buyer_ref TEXT,
    principal_id TEXT,
    adapter TEXT,
    brand_url TEXT,
    start_time TEXT,
    end_time TEXT,
    total_budget REAL,
    currency TEXT,
    record_json TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);

-- package rows are minted before their media buy exists and back-filled
-- once the adapter returns, so media_buy_id carries no FK constraint.
CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id TEXT NOT NULL UNIQUE,
    media_buy_id TEXT NOT NULL DEFAULT '',
    buyer_ref TEXT,
    product_id TEXT,
    pricing_option_id TEXT,
    format_ids_json TEXT,
    budget REAL,
    impressions INTEGER,
    paused INTEGER DEFAULT 0,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_packages_media_buy ON packages(media_buy_id);

CREATE TABLE IF NOT EXISTS contexts (
    context_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    step_id TEXT PRIMARY KEY,
    context_id TEXT NOT NULL,
    step_type TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    request_data TEXT,
    response_data TEXT,
    error_message TEXT,
    status TEXT NOT NULL,
    owner TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (context_id) REFERENCES contexts(context_id)
);
`
