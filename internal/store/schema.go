package store

// Schema is the DDL for the ledger tables. Applied at startup when the
// server runs with ENSURE_SCHEMA=1; production deployments manage it with
// their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT        NOT NULL,
    bank_id    TEXT        NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    id         BIGSERIAL PRIMARY KEY,
    type       TEXT        NOT NULL CHECK (type IN ('buy', 'sell')),
    user_id    BIGINT      NOT NULL REFERENCES users (id),
    amount     BIGINT      NOT NULL CHECK (amount > 0),
    price      BIGINT      NOT NULL CHECK (price > 0),
    closed_at  TIMESTAMPTZ,
    trade_id   BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_open
    ON orders (type, price, created_at) WHERE closed_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_orders_user_trade
    ON orders (user_id, trade_id);

CREATE TABLE IF NOT EXISTS trade (
    id         BIGSERIAL PRIMARY KEY,
    amount     BIGINT      NOT NULL,
    price      BIGINT      NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
