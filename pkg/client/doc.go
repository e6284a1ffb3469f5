// Package client is the Custodia Go SDK.
//
// It provides everything an integrating system needs to work with a Custodia
// evidence ledger: registering items, recording custody events, driving the
// transfer approval workflow, and verifying chain integrity.
//
// # Connecting
//
// Production deployments authenticate with a token issued by the agency's
// identity provider:
//
//	c, err := client.New("https://custodia.internal:8443",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Against a development server running without token verification, identify
// yourself by actor ID instead:
//
//	c, _ := client.New("http://localhost:8080", client.WithActorID("officer-7"))
//
// # Recording custody
//
//	item, err := c.RegisterEvidence(ctx, client.RegisterEvidenceRequest{
//	    EvidenceID:   "E-100",
//	    CaseID:       "C-2024-0117",
//	    EvidenceType: "physical",
//	})
//	event, err := c.AppendEvent(ctx, "E-100", "collected", "Scene A")
//
// Every event is hash-chained to its predecessor; the returned CustodyEvent
// carries the sequence number and entry hash the ledger assigned.
//
// # Transfers
//
// Custody transfers are two-party: the requester creates, a second actor
// decides. Approval appends the "transferred" event atomically:
//
//	tr, _ := c.CreateTransfer(ctx, client.CreateTransferRequest{
//	    EvidenceID: "E-100",
//	    Recipient:  "Lab-B",
//	    Purpose:    "ballistics analysis",
//	})
//	// ... as the approver ...
//	result, _ := approverClient.ApproveTransfer(ctx, tr.ID)
//	fmt.Println(result.Event.Sequence)
//
// # Verification
//
// Verify walks the item's chain server-side and reports the first break, if
// any. Use MustBeIntact as a gate in workflows that refuse compromised
// evidence:
//
//	if _, err := c.MustBeIntact(ctx, "E-100"); errors.Is(err, client.ErrChainBroken) {
//	    // quarantine the item
//	}
//
// Dashboards polling many items can cache results with WithVerifyCacheTTL;
// the cache is invalidated automatically when this client appends events.
package client
