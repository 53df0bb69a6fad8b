// Package notifyhook bridges step lifecycle events to an external
// notification channel. Terminal failures, dead-letter captures, and
// provider bans are forwarded to a user-supplied [Notifier]; delivery
// itself (email, chat, pager) lives outside this module.
//
// Notification failures are logged and swallowed — a broken notifier must
// never affect step execution.
//
//	notifier := notifyhook.NotifierFunc(func(ctx context.Context, n *notifyhook.Notice) error {
//	    return slackClient.Post(ctx, n.Message)
//	})
//	eng, err := engine.Build(orch,
//	    engine.WithExtension(notifyhook.New(notifier,
//	        notifyhook.WithActions(notifyhook.ActionStepFailed, notifyhook.ActionProviderBanned),
//	    )),
//	)
package notifyhook
