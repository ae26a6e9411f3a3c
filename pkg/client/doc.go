// Package client is the Go SDK for the Subzone registry API.
//
// Checking whether a label is free needs no credentials:
//
//	c, _ := client.New("https://registry.example.com")
//	avail, err := c.CheckAvailability(ctx, "myblog")
//
// Every other call acts on behalf of a user and needs a bearer token
// issued by the identity provider:
//
//	c, _ := client.New("https://registry.example.com",
//	    client.WithToken(os.Getenv("SUBZONE_TOKEN")),
//	)
//	res, err := c.Claim(ctx, client.ClaimRequest{
//	    Label:      "myblog",
//	    RecordType: "A",
//	    Target:     "192.0.2.10",
//	})
//
// A claim can succeed while its DNS record could not be published yet.
// Check res.DNS.Synced and call SyncDNS when res.DNS.RetryAvailable is set.
//
// Errors returned by the server are *APIError values carrying the HTTP
// status and a stable error code:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == client.CodeLabelTaken {
//	    // pick another label
//	}
package client
