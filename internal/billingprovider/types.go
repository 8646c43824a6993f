package billingprovider

// Типы событий провайдера, которые обрабатывает сервис.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event — событие из webhook провайдера. Data.Object разбирается по типу события.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object rawObject `json:"object"`
	} `json:"data"`
}

// CheckoutSession — завершённая оплата подписки.
type CheckoutSession struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// Email возвращает адрес покупателя из деталей или из поля верхнего уровня.
func (s *CheckoutSession) Email() string {
	if s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// Subscription — подписка клиента.
type Subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price Price `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID возвращает идентификатор цены первой позиции подписки.
func (s *Subscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// Price — цена тарифного плана.
type Price struct {
	ID string `json:"id"`
}

// Customer — клиент провайдера.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PortalSession — ссылка на страницу управления подпиской.
type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type list[T any] struct {
	Data []T `json:"data"`
}

type lineItem struct {
	Price Price `json:"price"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
