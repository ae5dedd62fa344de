package api

import (
	"context"
	"net/http"

	"github.com/saidmaadan/inventtiveapp/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// roleOf 从用户表读取角色，是所有角色判断的唯一入口。
//
// 会话 claim 中的角色只作提示，授权决策永远以数据库当前值为准，
// 这样降权会在下一次请求立即生效，不必等令牌过期。
func roleOf(ctx context.Context, db *gorm.DB, userID uint) (string, error) {
	var user model.User
	if err := db.WithContext(ctx).Select("role").First(&user, userID).Error; err != nil {
		return "", err
	}
	return user.Role, nil
}

// requireAdmin 校验当前用户是否为管理员。
//
// 校验失败时已写好响应，调用方直接 return 即可。
func (s *Server) requireAdmin(c *gin.Context) (uint, bool) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	role, err := roleOf(c.Request.Context(), s.db, userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	if role != model.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return 0, false
	}
	return userID, true
}

// adminOnly 管理端路由组的守卫中间件。
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.requireAdmin(c); !ok {
			c.Abort()
			return
		}
		c.Next()
	}
}
