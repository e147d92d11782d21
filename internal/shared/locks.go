package shared

import "fmt"

// TrustAccountLockKey builds lock keys for per-account posting critical sections.
func TrustAccountLockKey(companyID int64, accountID string) string {
	return fmt.Sprintf("trust:company:%d:account:%s:lock", companyID, accountID)
}

// TrustPropertyLockKey guards lazy account creation for a property.
func TrustPropertyLockKey(companyID, propertyID int64) string {
	return fmt.Sprintf("trust:company:%d:property:%d:lock", companyID, propertyID)
}
