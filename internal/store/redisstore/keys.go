package redisstore

import "fmt"

// Key layout exactly as specified: map:{src}:{pid},
// pending:{src}:{pid}, closed:{acct}:{pid}, orphan:{acct}:{pid},
// metrics:{routeId}:{bucket}:{ts}, perf:{routeId}:{window}, alert:{id}.

func mappingKey(src, pid string) string { return fmt.Sprintf("map:%s:%s", src, pid) }
func mappingScanPattern(src string) string { return fmt.Sprintf("map:%s:*", src) }

func pendingKey(src, pid string) string      { return fmt.Sprintf("pending:%s:%s", src, pid) }
func pendingKeyPrefix(src string) string     { return fmt.Sprintf("pending:%s:", src) }
func pendingIndexKey(src string) string      { return fmt.Sprintf("pending-idx:%s", src) }

func closedMarkerKey(acct, pid string) string { return fmt.Sprintf("closed:%s:%s", acct, pid) }
func orphanMarkerKey(acct, pid string) string { return fmt.Sprintf("orphan:%s:%s", acct, pid) }

func hourlyMetricsKey(routeID, bucket string) string {
	return fmt.Sprintf("metrics:%s:hour:%s", routeID, bucket)
}
func dailyMetricsKey(routeID, bucket string) string {
	return fmt.Sprintf("metrics:%s:day:%s", routeID, bucket)
}
func perfCacheKey(routeID, window string) string { return fmt.Sprintf("perf:%s:%s", routeID, window) }
func alertKey(id string) string                  { return fmt.Sprintf("alert:%s", id) }

const statsSnapshotKey = "routing:stats:current"

func dailyReportKey(date string) string    { return fmt.Sprintf("report:daily:%s", date) }
func weeklyReportKey(monday string) string { return fmt.Sprintf("report:weekly:%s", monday) }
