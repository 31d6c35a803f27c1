package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/permitwatch/internal/cache"
	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/logger"
	"github.com/yairfalse/permitwatch/pkg/types"
)

const maxResponseBytes = 8 << 20

// Options configure a RecreationClient
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	DetailsTTL time.Duration
	HTTPClient *http.Client
	Cache      cache.Cache
	Log        logger.Logger
}

// RecreationClient reads permit availability from the recreation.gov
// permit API
type RecreationClient struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	detailsTTL time.Duration
	http       *http.Client
	cache      cache.Cache
	log        logger.Logger
}

// permitDetails is the payload of the details endpoint
type permitDetails struct {
	Name      string              `json:"name"`
	Divisions map[string]division `json:"divisions"`
}

type division struct {
	Name string `json:"name"`
}

type detailsResponse struct {
	Payload *permitDetails `json:"payload"`
}

type dayAvailability struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

type availabilityResponse struct {
	Payload *struct {
		DateAvailability map[string]dayAvailability `json:"date_availability"`
	} `json:"payload"`
}

// NewRecreationClient creates a client. Zero options fall back to defaults.
func NewRecreationClient(opts Options) *RecreationClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.recreation.gov"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DetailsTTL <= 0 {
		opts.DetailsTTL = time.Hour
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(cache.DefaultConfig())
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &RecreationClient{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		detailsTTL: opts.DetailsTTL,
		http:       opts.HTTPClient,
		cache:      opts.Cache,
		log:        opts.Log,
	}
}

// Fetch returns the availability of entity between dates. A day is
// available when its remaining capacity is positive and covers the party
// size. Every month the API reports inside dates is tracked, even with no
// open days; days outside dates are dropped.
func (c *RecreationClient) Fetch(ctx context.Context, entity types.Entity, dates types.DateRange) (types.Snapshot, error) {
	id := string(entity.ID)

	details, err := c.details(ctx, id)
	if err != nil {
		return types.Snapshot{}, err
	}
	if len(details.Divisions) == 0 {
		return types.Snapshot{}, perrors.FetchError(id, fmt.Errorf("permit has no divisions"))
	}

	name := details.Name
	url := c.PermitURL(entity.ID)

	if !entity.Divided() {
		divisionID := firstDivision(details.Divisions)
		cal, err := c.calendar(ctx, entity, divisionID, dates)
		if err != nil {
			return types.Snapshot{}, err
		}
		return types.NewUndivided(name, url, cal), nil
	}

	// a name shared by several divisions maps to the lowest ID
	byName := make(map[string]string, len(details.Divisions))
	for _, divisionID := range sortedDivisionIDs(details.Divisions) {
		name := details.Divisions[divisionID].Name
		if _, taken := byName[name]; !taken {
			byName[name] = divisionID
		}
	}

	segments := make(map[string]types.Calendar, len(entity.Subdivisions))
	for _, segment := range entity.Subdivisions {
		divisionID, ok := byName[segment]
		if !ok {
			return types.Snapshot{}, perrors.FetchError(id,
				fmt.Errorf("segment %q not found; permit has %s", segment, strings.Join(divisionNames(details.Divisions), ", "))).
				WithSolutions("Check the segment names in settings against the permit page")
		}
		cal, err := c.calendar(ctx, entity, divisionID, dates)
		if err != nil {
			return types.Snapshot{}, err
		}
		segments[segment] = cal
	}
	return types.NewDivided(name, url, segments), nil
}

// PermitURL is the public page of a permit
func (c *RecreationClient) PermitURL(id types.EntityID) string {
	return fmt.Sprintf("%s/permits/%s", c.baseURL, id)
}

func (c *RecreationClient) details(ctx context.Context, id string) (*permitDetails, error) {
	if cached, ok := c.cache.Get(id); ok {
		if details, ok := cached.(*permitDetails); ok {
			return details, nil
		}
	}

	var resp detailsResponse
	endpoint := fmt.Sprintf("%s/api/permits/%s/details", c.baseURL, id)
	if err := c.getJSON(ctx, id, "details", endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Payload == nil {
		return nil, perrors.FetchError(id, fmt.Errorf("details response has no payload"))
	}

	c.cache.Set(id, resp.Payload, c.detailsTTL)
	return resp.Payload, nil
}

func (c *RecreationClient) calendar(ctx context.Context, entity types.Entity, divisionID string, dates types.DateRange) (types.Calendar, error) {
	id := string(entity.ID)

	// the API wants UTC timestamps; they go into the URL unencoded
	endpoint := fmt.Sprintf("%s/api/permits/%s/divisions/%s/availability?start_date=%sT00:00:00Z&end_date=%sT00:00:00Z",
		c.baseURL, id, divisionID,
		dates.Start.Format(types.DateLayout), dates.End.Format(types.DateLayout))

	var resp availabilityResponse
	if err := c.getJSON(ctx, id, "availability for division "+divisionID, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Payload == nil {
		return nil, perrors.FetchError(id, fmt.Errorf("availability response for division %s has no payload", divisionID))
	}

	needed := 1
	if entity.PartySize > needed {
		needed = entity.PartySize
	}

	cal := types.Calendar{}
	for raw, avail := range resp.Payload.DateAvailability {
		day, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, perrors.FetchError(id, fmt.Errorf("unexpected date %q in availability: %w", raw, err))
		}
		if !dates.Contains(day) {
			continue
		}
		bucket := types.BucketOf(day)
		if _, tracked := cal[bucket]; !tracked {
			cal[bucket] = types.NewDaySet()
		}
		if avail.Remaining >= needed {
			cal.Add(bucket, day.Day())
		}
	}

	c.log.WithFields(map[string]interface{}{
		"permit":   id,
		"division": divisionID,
		"days":     cal.DayCount(),
	}).Debug("fetched availability")
	return cal, nil
}

func (c *RecreationClient) getJSON(ctx context.Context, id, what, endpoint string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return perrors.FetchError(id, fmt.Errorf("failed to build %s request: %w", what, err))
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return perrors.FetchError(id, fmt.Errorf("failed to get %s: %w", what, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return perrors.FetchStatusError(id, what, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return perrors.FetchError(id, fmt.Errorf("failed to decode %s: %w", what, err))
	}
	return nil
}

// firstDivision picks the lowest division ID
func firstDivision(divisions map[string]division) string {
	return sortedDivisionIDs(divisions)[0]
}

// sortedDivisionIDs orders division IDs numerically when possible
func sortedDivisionIDs(divisions map[string]division) []string {
	ids := make([]string, 0, len(divisions))
	for id := range divisions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func divisionNames(divisions map[string]division) []string {
	names := make([]string, 0, len(divisions))
	for _, div := range divisions {
		names = append(names, strconv.Quote(div.Name))
	}
	sort.Strings(names)
	return names
}
