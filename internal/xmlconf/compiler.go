package xmlconf

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/md-riaz/NIZAM-sub001/internal/models"
	"github.com/md-riaz/NIZAM-sub001/internal/modules"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// Document is the switch's configuration pull envelope.
type Document struct {
	XMLName xml.Name `xml:"document"`
	Type    string   `xml:"type,attr"`
	Section Section  `xml:"section"`
}

type Section struct {
	Name    string           `xml:"name,attr"`
	Domain  *Domain          `xml:"domain,omitempty"`
	Context *DialplanContext `xml:"context,omitempty"`
	Result  *Result          `xml:"result,omitempty"`
}

type Result struct {
	Status string `xml:"status,attr"`
}

type Domain struct {
	Name  string `xml:"name,attr"`
	Users []User `xml:"user"`
}

type User struct {
	ID        string     `xml:"id,attr"`
	Params    []Param    `xml:"params>param"`
	Variables []Variable `xml:"variables>variable"`
}

type Param struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type Variable struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type DialplanContext struct {
	Name       string         `xml:"name,attr"`
	Extensions []RoutingEntry `xml:"extension"`
}

type RoutingEntry struct {
	Name      string    `xml:"name,attr"`
	Condition Condition `xml:"condition"`
}

type Condition struct {
	Field      string   `xml:"field,attr"`
	Expression string   `xml:"expression,attr"`
	Actions    []Action `xml:"action"`
}

type Action struct {
	Application string `xml:"application,attr"`
	Data        string `xml:"data,attr,omitempty"`
}

// Compiler projects tenant routing state into the switch's pull
// protocol. It is read-only and safe under unlimited concurrency.
type Compiler struct {
	store    store.Store
	registry *modules.Registry
}

func NewCompiler(s store.Store, registry *modules.Registry) *Compiler {
	return &Compiler{store: s, registry: registry}
}

func marshal(doc *Document) []byte {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Statically-shaped structs; marshaling cannot realistically fail.
		logger.WithError(err).Error("XML marshal failed")
		return []byte(`<document type="freeswitch/xml"><section name="result"><result status="not found"/></section></document>`)
	}
	return append([]byte(xml.Header), out...)
}

// NotFound is the document returned for unknown sections. Always HTTP
// 200; the switch treats it as a lookup miss, not an error.
func NotFound() []byte {
	return marshal(&Document{
		Type:    "freeswitch/xml",
		Section: Section{Name: "result", Result: &Result{Status: "not found"}},
	})
}

// CompileDirectory emits one subscriber per active extension under the
// tenant's domain. An unknown domain yields a valid, empty directory
// document; the switch polls this endpoint continuously and must never
// see an error.
func (c *Compiler) CompileDirectory(ctx context.Context, domain string) ([]byte, error) {
	doc := &Document{Type: "freeswitch/xml", Section: Section{Name: "directory"}}

	tenant, err := c.findTenant(ctx, domain)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return marshal(doc), nil
	}

	extensions, err := c.store.ActiveExtensions(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	d := &Domain{Name: tenant.Domain}
	for _, ext := range extensions {
		user := User{
			ID: ext.Number,
			Params: []Param{
				{Name: "password", Value: ext.Password},
			},
			Variables: []Variable{
				{Name: "user_context", Value: tenant.Domain},
				{Name: "effective_caller_id_name", Value: ext.DisplayName},
				{Name: "effective_caller_id_number", Value: ext.Number},
			},
		}
		if ext.VoicemailEnabled {
			user.Params = append(user.Params,
				Param{Name: "vm-enabled", Value: "true"},
				Param{Name: "vm-password", Value: ext.VoicemailPassword},
			)
		}
		d.Users = append(d.Users, user)
	}

	doc.Section.Domain = d
	return marshal(doc), nil
}

// CompileDialplan resolves the destination number against the tenant's
// routing configuration. Unknown domains and suspended/terminated
// tenants get a context with zero entries, so the call fails closed at
// the switch instead of erroring. Destination precedence: extension,
// then DID, then ring group, then a transfer placeholder for the
// remaining destination types. Module fragments merge in ascending
// priority, ties by registration order, after the store-derived route.
func (c *Compiler) CompileDialplan(ctx context.Context, domain, destination string) ([]byte, error) {
	doc := &Document{Type: "freeswitch/xml", Section: Section{Name: "dialplan"}}
	dpContext := &DialplanContext{Name: domain}
	doc.Section.Context = dpContext

	tenant, err := c.findTenant(ctx, domain)
	if err != nil {
		return nil, err
	}
	if tenant == nil || !tenant.Status.IsRoutable() {
		return marshal(doc), nil
	}

	actions, name, err := c.resolveDestination(ctx, tenant, destination)
	if err != nil {
		return nil, err
	}

	if c.registry != nil {
		for _, fragment := range c.registry.Fragments(ctx, domain, destination) {
			for _, a := range fragment.Actions {
				actions = append(actions, Action{Application: a.Application, Data: a.Data})
			}
		}
	}

	if len(actions) == 0 {
		// Always answer with a well-formed terminal route.
		name = "no_route"
		actions = []Action{{Application: "hangup", Data: "NO_ROUTE_DESTINATION"}}
	}

	dpContext.Extensions = append(dpContext.Extensions, RoutingEntry{
		Name: name,
		Condition: Condition{
			Field:      "destination_number",
			Expression: fmt.Sprintf("^%s$", destination),
			Actions:    actions,
		},
	})

	return marshal(doc), nil
}

func (c *Compiler) resolveDestination(ctx context.Context, tenant *models.Tenant, destination string) ([]Action, string, error) {
	ext, err := c.store.FindExtension(ctx, tenant.ID, destination)
	if err != nil {
		return nil, "", err
	}
	if ext != nil {
		return extensionActions(tenant.Domain, ext), "local_extension", nil
	}

	did, err := c.store.FindDID(ctx, tenant.ID, destination)
	if err != nil {
		return nil, "", err
	}
	if did != nil {
		actions, err := c.didActions(ctx, tenant, did)
		return actions, "inbound_did", err
	}

	group, err := c.store.FindRingGroup(ctx, tenant.ID, destination)
	if err != nil {
		return nil, "", err
	}
	if group != nil {
		return ringGroupActions(tenant.Domain, group), "ring_group", nil
	}

	return nil, "", nil
}

func (c *Compiler) didActions(ctx context.Context, tenant *models.Tenant, did *models.DID) ([]Action, error) {
	switch did.DestinationType {
	case models.DestinationExtension:
		ext, err := c.store.FindExtensionByID(ctx, tenant.ID, did.DestinationID)
		if err != nil {
			return nil, err
		}
		if ext == nil {
			return nil, nil
		}
		return extensionActions(tenant.Domain, ext), nil
	case models.DestinationRingGroup:
		group, err := c.store.FindRingGroupByID(ctx, tenant.ID, did.DestinationID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			return nil, nil
		}
		return ringGroupActions(tenant.Domain, group), nil
	default:
		// IVR, time-condition and call-flow execution live outside the
		// core; hand the call to their context by reference.
		return []Action{{
			Application: "transfer",
			Data:        fmt.Sprintf("%s_%d XML %s", did.DestinationType, did.DestinationID, tenant.Domain),
		}}, nil
	}
}

func extensionActions(domain string, ext *models.Extension) []Action {
	actions := []Action{
		{Application: "set", Data: "hangup_after_bridge=true"},
		{Application: "bridge", Data: fmt.Sprintf("user/%s@%s", ext.Number, domain)},
	}
	if ext.VoicemailEnabled {
		actions = append(actions, Action{
			Application: "voicemail",
			Data:        fmt.Sprintf("default %s %s", domain, ext.Number),
		})
	}
	return actions
}

func ringGroupActions(domain string, group *models.RingGroup) []Action {
	targets := ""
	for i, number := range group.Extensions {
		if i > 0 {
			targets += ","
		}
		targets += fmt.Sprintf("user/%s@%s", number, domain)
	}
	return []Action{
		{Application: "set", Data: fmt.Sprintf("call_timeout=%d", group.Timeout)},
		{Application: "bridge", Data: targets},
	}
}

// findTenant maps the not-found error onto nil so callers can emit the
// degraded document instead of failing.
func (c *Compiler) findTenant(ctx context.Context, domain string) (*models.Tenant, error) {
	tenant, err := c.store.GetTenantByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, errors.ErrTenantNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tenant, nil
}
