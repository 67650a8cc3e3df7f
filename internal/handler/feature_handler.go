package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scanshare/internal/feature"
)

// subscription 从查询参数解析订阅档位与状态。
// 正式部署中这两项来自计费系统，这里接受显式传入。
func subscription(c *gin.Context) (feature.Tier, string) {
	tier := feature.ParseTier(c.DefaultQuery("tier", "free"))
	status := c.DefaultQuery("status", feature.StatusActive)
	return tier, status
}

// ListFeatures 处理 GET /api/features：返回档位可用的全部功能。
func (a *API) ListFeatures(c *gin.Context) {
	tier, status := subscription(c)

	rules := feature.AllRules()
	features := make([]gin.H, 0, len(rules))
	for _, rule := range rules {
		features = append(features, gin.H{
			"feature":      rule.Feature,
			"requiredTier": rule.RequiredTier.String(),
			"usageType":    rule.UsageType,
			"allowed":      feature.HasAccess(rule.Feature, tier, status),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tier":     tier.String(),
		"features": features,
	})
}

// CheckFeatureAccess 处理 GET /api/features/:feature/access。
func (a *API) CheckFeatureAccess(c *gin.Context) {
	tier, status := subscription(c)
	name := c.Param("feature")

	response := gin.H{
		"feature": name,
		"allowed": feature.HasAccess(name, tier, status),
	}
	for _, rule := range feature.AllRules() {
		if rule.Feature == name {
			response["requiredTier"] = rule.RequiredTier.String()
			break
		}
	}

	c.JSON(http.StatusOK, response)
}
