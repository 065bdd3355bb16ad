// Package courtside is the client-side session core of the Courtside app.
//
// It decides, from asynchronous and partially ordered signals, who is signed
// in right now and which part of the app they should be looking at.
//
// # Architecture
//
// Gateway: the backend, consumed through a narrow contract. It reports the
// persisted session, pushes SIGNED_IN / SIGNED_OUT events at arbitrary
// times, and stores one Profile per Identity. NullGateway stands in when no
// backend is configured; the gateways/local and gateways/remote packages
// provide real ones.
//
// Resolver: owns the single SessionState. It runs one cold-start lookup
// (bounded by a lookup timeout and an independent fallback timeout) and
// listens to the event stream. Each write replaces the whole state;
// superseded results are discarded by generation number.
//
// Auth: the façade screens call to sign in, sign up, complete onboarding
// and sign out. Every error it returns is an *AuthError with one of five
// codes.
//
// Decide and Navigator: Decide is a pure function from (state, screen
// group) to a Decision. Navigator runs it on every change and executes at
// most one redirect per cooldown window.
//
// # Basic Usage
//
//	gw := local.New(store, store, sessions)
//	provider := courtside.NewProvider(gw)
//	provider.Start(ctx)
//	defer provider.Close()
//
//	nav := courtside.NewNavigator(provider.Cell(), router, nil)
//	nav.Start()
//	defer nav.Stop()
//
//	if _, err := provider.SignIn(ctx, courtside.Credential{Email: email, Password: pw}); err != nil {
//	    switch courtside.CodeOf(err) {
//	    case courtside.CodeProfileNotFound:
//	        // the navigator will route to onboarding
//	    default:
//	        // show err inline
//	    }
//	}
//
// Screens read the session with UseSession(ctx) after the provider has been
// attached with NewContext.
package courtside
