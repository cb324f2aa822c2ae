package handler

import (
	"fmt"

	"multi-rag-go/internal/model"
	"multi-rag-go/pkg/vectorindex"

	"github.com/gin-gonic/gin"
)

// currentUser 从上下文中取出由 AuthMiddleware 注入的 User 对象。
func currentUser(c *gin.Context) (*model.User, error) {
	userValue, exists := c.Get("user")
	if !exists {
		return nil, fmt.Errorf("无法获取用户信息")
	}
	user, ok := userValue.(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("用户数据类型错误")
	}
	return user, nil
}

// resolveNamespace 根据 kb_type 参数解析目标命名空间。
// SKB 的隔离键始终取自当前认证用户，绝不信任请求参数。
func resolveNamespace(kbType string, user *model.User) (vectorindex.Namespace, error) {
	switch kbType {
	case string(vectorindex.KindGKB):
		return vectorindex.GKB(), nil
	case string(vectorindex.KindSKB), "":
		// 默认写入私有知识库
		return vectorindex.SKB(user.Username), nil
	default:
		return vectorindex.Namespace{}, fmt.Errorf("未知的知识库类型: %s", kbType)
	}
}
