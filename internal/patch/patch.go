// Package patch computes and validates the field-level difference between a
// host record and a requested patch document. It is pure: analysis never
// touches the store and never calls a collaborator.
package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/models"
)

// CallerIdentity classifies who issued a mutation. It is derived from the
// transport layer and drives the restricted-field policy.
type CallerIdentity string

const (
	CallerGeneric      CallerIdentity = "generic"
	CallerMaintenance  CallerIdentity = "maintenance"
	CallerOrchestrator CallerIdentity = "orchestrator"
)

// Op is a single patch operation against one field of a host resource
type Op struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Document is an ordered list of patch operations
type Document []Op

// Result is the outcome of analyzing a patch against a host snapshot
type Result struct {
	// Candidate is the record as it would look with the patch applied
	Candidate *models.Host

	// Delta holds the names of fields whose value differs from the original,
	// sorted for deterministic iteration
	Delta []string

	// Action is set when the document patched the /action path
	Action models.Action

	// BMPassword is captured from a /bm_password operation. It is write-only:
	// it never lands on the candidate record and is routed to the credential
	// store by the coordinator.
	BMPassword string
}

// Changed reports whether the named field is part of the delta
func (r *Result) Changed(field string) bool {
	for _, f := range r.Delta {
		if f == field {
			return true
		}
	}
	return false
}

// actionPath and bmPasswordPath are handled out of band: neither is a column
// on the host record.
const (
	actionPath     = "action"
	bmPasswordPath = "bm_password"
)

var validate = validator.New()

// Analyze validates doc against the current snapshot and produces the
// candidate record plus the set of changed fields. A nil error guarantees the
// patch is structurally sound, respects the restricted-field policy for
// caller, and yields a candidate that passes enum validation.
func Analyze(current *models.Host, doc Document, caller CallerIdentity) (*Result, error) {
	res := &Result{}

	seen := map[string]interface{}{}
	fields := map[string]interface{}{}
	removed := map[string]bool{}

	for _, op := range doc {
		field, err := parsePath(op.Path)
		if err != nil {
			return nil, err
		}

		switch op.Op {
		case "add", "replace":
			if prev, dup := seen[field]; dup && !reflect.DeepEqual(prev, op.Value) {
				return nil, errors.NewValidationError(field, op.Value,
					"duplicate operation on the same path with a conflicting value")
			}
			seen[field] = op.Value
		case "remove":
			if prev, dup := seen[field]; dup && prev != nil {
				return nil, errors.NewValidationError(field, nil,
					"duplicate operation on the same path with a conflicting value")
			}
			seen[field] = nil
		default:
			return nil, errors.NewValidationError(field, op.Op, "unknown patch operation")
		}

		switch field {
		case actionPath:
			s, ok := op.Value.(string)
			if !ok || op.Op == "remove" {
				return nil, errors.NewValidationError(actionPath, op.Value, "action must be a string")
			}
			res.Action = models.Action(s)
		case bmPasswordPath:
			s, ok := op.Value.(string)
			if !ok || op.Op == "remove" {
				return nil, errors.NewValidationError(bmPasswordPath, nil, "bm_password must be a string")
			}
			res.BMPassword = s
		default:
			if !knownField(field) {
				return nil, errors.NewValidationError(field, op.Value, "unknown attribute")
			}
			if op.Op == "remove" {
				removed[field] = true
				delete(fields, field)
			} else {
				delete(removed, field)
				fields[field] = op.Value
			}
		}
	}

	candidate, err := apply(current, fields, removed)
	if err != nil {
		return nil, err
	}
	res.Candidate = candidate
	res.Delta = computeDelta(current, candidate)

	if err := enforceRestricted(res.Delta, caller); err != nil {
		return nil, err
	}
	if err := enforceImmutable(current, res); err != nil {
		return nil, err
	}
	if err := validate.Struct(candidate); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok || len(verrs) == 0 {
			return nil, errors.Wrap(err, "candidate validation")
		}
		ve := verrs[0]
		return nil, errors.NewValidationError(
			strings.ToLower(ve.Field()), ve.Value(), "invalid value")
	}

	return res, nil
}

// parsePath accepts a single-level path like "/administrative". Nested paths
// are only valid for composite fields, none of which are patchable here.
func parsePath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", errors.NewValidationError(path, nil, "patch path must start with '/'")
	}
	field := strings.TrimPrefix(path, "/")
	if field == "" || strings.Contains(field, "/") {
		return "", errors.NewValidationError(path, nil, "patch path must address a single attribute")
	}
	return field, nil
}

// apply produces the candidate record by round-tripping the host through its
// JSON form so that patch paths line up with the wire field names
func apply(current *models.Host, fields map[string]interface{}, removed map[string]bool) (*models.Host, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, errors.Wrap(err, "marshal host snapshot")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal host snapshot")
	}

	for field, value := range fields {
		doc[field] = value
	}
	for field := range removed {
		delete(doc, field)
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal candidate")
	}
	candidate := &models.Host{}
	dec := json.NewDecoder(strings.NewReader(string(merged)))
	if err := dec.Decode(candidate); err != nil {
		return nil, errors.NewValidationError("", nil, fmt.Sprintf("malformed patch value: %v", err))
	}
	// A removed field reverts to its zero value, not to the snapshot value
	// that json omitted.
	for field := range removed {
		zeroField(candidate, field)
	}
	return candidate, nil
}

// computeDelta returns the wire names of fields that differ between the
// original and the candidate
func computeDelta(current, candidate *models.Host) []string {
	a := fieldValues(current)
	b := fieldValues(candidate)

	var delta []string
	for name, av := range a {
		if !reflect.DeepEqual(av, b[name]) {
			delta = append(delta, name)
		}
	}
	sort.Strings(delta)
	return delta
}

// fieldValues maps wire field name to value for every patchable and
// policy-relevant host field
func fieldValues(h *models.Host) map[string]interface{} {
	return map[string]interface{}{
		"id":                    h.ID,
		"uuid":                  h.UUID,
		"hostname":              h.Hostname,
		"personality":           h.Personality,
		"subfunctions":          h.Subfunctions,
		"administrative":        h.Administrative,
		"operational":           h.Operational,
		"availability":          h.Availability,
		"in_flight":             h.InFlight,
		"task":                  h.Task,
		"invprovision":          h.Provision,
		"vim_progress_status":   h.VIMProgressStatus,
		"controller_role":       h.ControllerRole,
		"mgmt_ip":               h.MgmtIP,
		"mgmt_mac":              h.MgmtMAC,
		"bm_type":               h.BMType,
		"bm_ip":                 h.BMIP,
		"bm_username":           h.BMUsername,
		"peer_id":               h.PeerID,
		"config_status":         h.ConfigStatus,
		"config_applied":        h.ConfigApplied,
		"config_target":         h.ConfigTarget,
		"clock_synchronization": h.ClockSync,
		"uptime":                h.Uptime,
		"location":              h.Location,
		"serialid":              h.SerialNum,
	}
}

func knownField(name string) bool {
	_, ok := fieldValues(&models.Host{})[name]
	return ok
}

func zeroField(h *models.Host, field string) {
	switch field {
	case "bm_type":
		h.BMType = ""
	case "bm_ip":
		h.BMIP = ""
	case "bm_username":
		h.BMUsername = ""
	case "location":
		h.Location = ""
	case "peer_id":
		h.PeerID = nil
	case "vim_progress_status":
		h.VIMProgressStatus = ""
	}
}
