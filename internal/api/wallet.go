package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"payment_engine/internal/domain"
	"payment_engine/internal/utils"

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library
)

const walletCacheTTL = 30 * time.Second

// GetWallet returns an account's balance. Reads go through the Redis cache;
// the ledger invalidates the same key on every commit.
func GetWallet(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		userID := c.GetString("userID")
		cacheKey := fmt.Sprintf("account:%s", accountID)

		var account domain.Account
		if rdb != nil {
			if hit, err := utils.GetCache(c.Request.Context(), rdb, cacheKey, &account); err == nil && hit {
				if account.UserID != userID {
					c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
					return
				}
				c.JSON(http.StatusOK, account)
				return
			}
		}

		err := db.Where("account_id = ? AND user_id = ?", accountID, userID).First(&account).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if rdb != nil {
			_ = utils.SetCache(c.Request.Context(), rdb, cacheKey, account, walletCacheTTL)
		}
		c.JSON(http.StatusOK, account)
	}
}

// GetWalletTransactions lists an account's transactions, newest first.
func GetWalletTransactions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		userID := c.GetString("userID")

		var account domain.Account
		err := db.Where("account_id = ? AND user_id = ?", accountID, userID).First(&account).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		var txns []domain.Transaction
		err = db.Where("from_account = ? OR to_account = ?", accountID, accountID).
			Order("created_at DESC").Limit(limit).
			Find(&txns).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transactions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": accountID, "transactions": txns})
	}
}
