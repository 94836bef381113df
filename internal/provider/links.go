package provider

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// chartPadding is how many granularity steps a chart link shows on each side.
const chartPadding = 7

// BuildLogSearchLink implements AlertProvider.
func (p *Default) BuildLogSearchLink(search *models.SavedSearch, start, end time.Time) string {
	return LogSearchLink(p.frontendURL, search.ID, start, end)
}

// BuildChartLink implements AlertProvider.
func (p *Default) BuildChartLink(dashboardID string, granularity time.Duration, start, end time.Time) string {
	return ChartLink(p.frontendURL, dashboardID, granularity, start, end)
}

// LogSearchLink renders a saved search deep link with an absolute time range.
func LogSearchLink(base, searchID string, start, end time.Time) string {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("isLive", "false")
	return fmt.Sprintf("%s/search/%s?%s", strings.TrimRight(base, "/"), url.PathEscape(searchID), q.Encode())
}

// ChartLink renders a dashboard deep link padded by chartPadding steps.
func ChartLink(base, dashboardID string, granularity time.Duration, start, end time.Time) string {
	pad := time.Duration(chartPadding) * granularity
	q := url.Values{}
	q.Set("from", strconv.FormatInt(start.Add(-pad).UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(end.Add(pad).UnixMilli(), 10))
	q.Set("granularity", granularityLabel(granularity))
	return fmt.Sprintf("%s/dashboards/%s?%s", strings.TrimRight(base, "/"), url.PathEscape(dashboardID), q.Encode())
}

func granularityLabel(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d day", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hour", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minute", d/time.Minute)
	default:
		return fmt.Sprintf("%d second", d/time.Second)
	}
}
