// Package auth проверяет PASETO-токены и выполняет авторизацию по
// наборам возможностей, выведенным из ролей пользователя.
package auth

import "slices"

// Роли платформы.
const (
	RoleAdmin        = "admin"
	RoleGestionnaire = "gestionnaire"
	RoleAgentTerrain = "agent_terrain"
	RoleComptable    = "comptable"
)

// Capability — атомарное право на операцию. Проверки в обработчиках
// выражаются через возможности, а не через членство в списке ролей.
type Capability string

const (
	CapCustomerWrite Capability = "customer:write"
	CapSaleCreate    Capability = "sale:create"
	CapPaymentRecord Capability = "payment:record"
	CapProductWrite  Capability = "product:write"
	CapMovementWrite Capability = "movement:write"
	CapLedgerWrite   Capability = "ledger:write"
	CapTaxReport     Capability = "tax:report"
)

// roleCapabilities отображает роль в её набор возможностей. Наборы
// воспроизводят исходную матрицу доступа один в один.
var roleCapabilities = map[string][]Capability{
	RoleAdmin: {
		CapCustomerWrite, CapSaleCreate, CapPaymentRecord,
		CapProductWrite, CapMovementWrite, CapLedgerWrite, CapTaxReport,
	},
	RoleGestionnaire: {
		CapCustomerWrite, CapSaleCreate, CapPaymentRecord,
		CapProductWrite, CapMovementWrite, CapTaxReport,
	},
	RoleAgentTerrain: {
		CapSaleCreate, CapMovementWrite,
	},
	RoleComptable: {
		CapPaymentRecord, CapLedgerWrite, CapTaxReport,
	},
}

// Claims — типизированные утверждения проверенного токена.
type Claims struct {
	UserID       string
	Username     string
	Roles        []string
	capabilities []Capability
}

// NewClaims строит Claims, разворачивая роли в набор возможностей.
func NewClaims(userID, username string, roles []string) Claims {
	claims := Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
	}
	for _, role := range roles {
		for _, capability := range roleCapabilities[role] {
			if !slices.Contains(claims.capabilities, capability) {
				claims.capabilities = append(claims.capabilities, capability)
			}
		}
	}
	return claims
}

// Can сообщает, есть ли у пользователя возможность.
func (c Claims) Can(capability Capability) bool {
	return slices.Contains(c.capabilities, capability)
}
