package redisx

import (
	"fmt"
	"time"
)

const (
	// Stock cache entry: warehouse:{productKey} -> {"stockQuantity": ..., "updatedAt": ...}
	KeyWarehouseStock = "warehouse:%s"
)

var TTLStockCache = 300 * time.Second

func StockKey(productKey string) string {
	return fmt.Sprintf(KeyWarehouseStock, productKey)
}
