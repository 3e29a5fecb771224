package rediskey

import "fmt"

const (
	SequencePrefix = "seq"
	CatalogPrefix  = "catalog"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildDailySequenceKey returns "seq:{prefix}:{tenantID}:{yymmdd}"
func BuildDailySequenceKey(prefix, tenantID, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s:%s", prefix, tenantID, day))
}

// BuildPlanKey returns "catalog:plan:{tenantID}:{planID}"
func BuildPlanKey(tenantID, planID string) string {
	return NamespaceKey(CatalogPrefix, fmt.Sprintf("plan:%s:%s", tenantID, planID))
}

// BuildTreatmentKey returns "catalog:treatment:{tenantID}:{treatmentID}"
func BuildTreatmentKey(tenantID, treatmentID string) string {
	return NamespaceKey(CatalogPrefix, fmt.Sprintf("treatment:%s:%s", tenantID, treatmentID))
}
