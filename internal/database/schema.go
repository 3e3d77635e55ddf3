package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(150) NOT NULL,
		email         VARCHAR(254) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		first_name    VARCHAR(150) NOT NULL DEFAULT '',
		last_name     VARCHAR(150) NOT NULL DEFAULT '',
		is_staff      TINYINT(1)   NOT NULL DEFAULT 0,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		date_joined   DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_username (username),
		KEY idx_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64)        NOT NULL,
		expires_at DATETIME        NOT NULL,
		revoked_at DATETIME        NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_tokens_hash (token_hash),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS categories (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		description TEXT         NOT NULL,
		created_at  DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_categories_name (name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS products (
		id                    BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name                  VARCHAR(200)    NOT NULL,
		description           TEXT            NOT NULL,
		price                 DECIMAL(10,2)   NOT NULL,
		stock_quantity        INT UNSIGNED    NOT NULL DEFAULT 0,
		category_id           BIGINT UNSIGNED NULL,
		image_url             VARCHAR(500)    NOT NULL DEFAULT '',
		requires_prescription TINYINT(1)      NOT NULL DEFAULT 0,
		created_at            DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at            DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_products_created (created_at),
		CONSTRAINT fk_products_category FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL,
		CONSTRAINT chk_products_price CHECK (price >= 0.01)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS carts (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_carts_user (user_id),
		CONSTRAINT fk_carts_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS cart_items (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		cart_id    BIGINT UNSIGNED NOT NULL,
		product_id BIGINT UNSIGNED NOT NULL,
		quantity   INT UNSIGNED    NOT NULL,
		added_at   DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_cart_items_cart_product (cart_id, product_id),
		CONSTRAINT fk_cart_items_cart FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE,
		CONSTRAINT fk_cart_items_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE,
		CONSTRAINT chk_cart_items_quantity CHECK (quantity >= 1)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS addresses (
		id             BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id        BIGINT UNSIGNED NOT NULL,
		full_name      VARCHAR(200)    NOT NULL,
		phone_number   VARCHAR(20)     NOT NULL,
		street_address VARCHAR(255)    NOT NULL,
		building       VARCHAR(100)    NOT NULL DEFAULT '',
		area           VARCHAR(100)    NOT NULL,
		city           VARCHAR(100)    NOT NULL DEFAULT 'Dubai',
		emirate        VARCHAR(50)     NOT NULL DEFAULT 'Dubai',
		postal_code    VARCHAR(20)     NOT NULL DEFAULT '',
		is_default     TINYINT(1)      NOT NULL DEFAULT 0,
		created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_addresses_user (user_id),
		CONSTRAINT fk_addresses_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                  BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id             BIGINT UNSIGNED NOT NULL,
		delivery_address_id BIGINT UNSIGNED NULL,
		status              ENUM('pending','processing','shipped','delivered','cancelled') NOT NULL DEFAULT 'pending',
		total_amount        DECIMAL(10,2)   NOT NULL,
		created_at          DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		delivered_at        DATETIME        NULL,
		KEY idx_orders_user_created (user_id, created_at),
		CONSTRAINT fk_orders_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_orders_address FOREIGN KEY (delivery_address_id) REFERENCES addresses(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id                BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		order_id          BIGINT UNSIGNED NOT NULL,
		product_id        BIGINT UNSIGNED NULL,
		product_name      VARCHAR(200)    NOT NULL,
		quantity          INT UNSIGNED    NOT NULL,
		price_at_purchase DECIMAL(10,2)   NOT NULL,
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
		CONSTRAINT fk_order_items_product FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
