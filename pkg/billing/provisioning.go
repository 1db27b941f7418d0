package billing

// proxySetupFeeCents is the one-time add-on charge folded into a checkout
// invoice when the proxy setup flag is present. It is subtracted back out
// when deriving the provisioned service's monthly price.
const proxySetupFeeCents int64 = 500

// provisioningRequest is the subscription a paid invoice's metadata asks to
// provision
type provisioningRequest struct {
	PlanType    string
	ProductID   string
	ServiceName string
	Location    string
	DedicatedIP bool
	ProxySetup  bool
}

// provisioningFromMetadata parses a pending provisioning request out of
// invoice metadata. A request only counts when the plan is not one-time and
// names both a service and a location.
func provisioningFromMetadata(md map[string]any) (*provisioningRequest, bool) {
	if md == nil {
		return nil, false
	}

	planType, _ := md["plan_type"].(string)
	if planType == "" || planType == "one_time" {
		return nil, false
	}

	serviceName, _ := md["service_name"].(string)
	location, _ := md["location"].(string)
	if serviceName == "" || location == "" {
		return nil, false
	}

	productID, _ := md["product_id"].(string)
	dedicatedIP, _ := md["dedicated_ip"].(bool)
	proxySetup, _ := md["proxy_setup"].(bool)

	return &provisioningRequest{
		PlanType:    planType,
		ProductID:   productID,
		ServiceName: serviceName,
		Location:    location,
		DedicatedIP: dedicatedIP,
		ProxySetup:  proxySetup,
	}, true
}
