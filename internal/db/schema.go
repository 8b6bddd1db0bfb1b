package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat_conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON chat_conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON chat_conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON chat_conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chat_conversation_user ON chat_conversation FIELDS user_id, updated_at;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chat_message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON chat_message TYPE record<chat_conversation>;
    DEFINE FIELD IF NOT EXISTS role ON chat_message TYPE string
        ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON chat_message TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chat_message_conversation ON chat_message FIELDS conversation, created_at;
`
